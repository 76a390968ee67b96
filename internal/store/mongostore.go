/*
 * Copyright (C) 2024 The reprogo authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package store

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore backs Store with a real document-store collaborator: the
// records already carry bson struct tags for exactly this purpose, so
// this is a thin adapter rather than a parallel schema.
type MongoStore struct {
	coll *mongo.Collection
}

// DialMongoStore connects to uri and returns a MongoStore backed by
// database db, collection "processes", creating the indexes the
// document-store contract requires (pid, most_recent_event_timestamp,
// creation_time+exit_time, phases.*.timestamp isn't indexable generically
// so phases.start_time stands in for it).
func DialMongoStore(ctx context.Context, uri, db string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to document store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("document store not reachable: %w", err)
	}

	coll := client.Database(db).Collection("processes")
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "pid", Value: 1}}},
		{Keys: bson.D{{Key: "most_recent_event_timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "creation_time", Value: 1}, {Key: "exit_time", Value: 1}}},
		{Keys: bson.D{{Key: "phases.start_time", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("creating document store indexes: %w", err)
	}

	return &MongoStore{coll: coll}, nil
}

// Upsert implements Store.
func (s *MongoStore) Upsert(ctx context.Context, rec Record) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.Key}, rec, opts)
	return err
}

// FindByPID implements Store.
func (s *MongoStore) FindByPID(ctx context.Context, pid int) ([]Record, error) {
	cur, err := s.coll.Find(ctx, bson.M{"pid": pid})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindMostRecentByArgv implements Store. The query argv is
// whitespace-normalised and matched as an anchored regex over the stored
// (unnormalised) argv, since Mongo has no native whitespace-collapsing
// comparison. Only leading and trailing whitespace in the stored argv is
// tolerated; unlike MemStore, runs of whitespace inside it are not
// collapsed.
func (s *MongoStore) FindMostRecentByArgv(ctx context.Context, argv string) (Record, bool, error) {
	filter := bson.M{"phases.execve_argv": bson.M{"$regex": argvRegexPattern(argv)}}
	opts := options.FindOne().SetSort(bson.D{{Key: "creation_time", Value: -1}})

	var rec Record
	err := s.coll.FindOne(ctx, filter, opts).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// All implements Store.
func (s *MongoStore) All(ctx context.Context) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "creation_time", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements Store.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.coll.Database().Client().Disconnect(ctx)
}

// argvRegexPattern builds the anchored regex FindMostRecentByArgv filters
// on: the whitespace-normalised query with regex metacharacters escaped,
// anchored at both ends with optional surrounding whitespace. Whitespace
// runs inside the stored argv are not collapsed, so a stored argv with
// repeated inner spaces does not match.
func argvRegexPattern(argv string) string {
	return "^\\s*" + regexp.QuoteMeta(normalizeWhitespace(argv)) + "\\s*$"
}
