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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anonymouse64/reprogo/internal/classify"
	"github.com/anonymouse64/reprogo/internal/ingest"
	"github.com/anonymouse64/reprogo/internal/pack"
	"github.com/anonymouse64/reprogo/internal/probe"
	"github.com/anonymouse64/reprogo/internal/provenance"
	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/reprogoerrors"
	"github.com/anonymouse64/reprogo/internal/store"
	"github.com/anonymouse64/reprogo/internal/symlink"
)

type cmdPack struct {
	Command  string   `short:"c" long:"command" description:"Command line of the experiment to trace, as it would be typed"`
	Execute  bool     `short:"x" long:"execute" description:"Run Command under the kernel probe before ingesting its trace"`
	Wdir     string   `short:"w" long:"wdir" description:"Accepted but not used: Command always runs in the current directory"`
	Env      []string `long:"env" description:"Extra k=v environment entries to run Command with, beyond the inherited environment"`
	Name     string   `long:"name" description:"Package name; also the staging directory and output archive basename" default:"reprogo-pkg"`
	Generate  bool   `long:"generate" description:"Second phase: read the (possibly edited) rep.config and emit <name>.tar.gz"`
	Probe     string `long:"probe-path" description:"Path to the kernel-probe binary" default:"pass-lite"`
	ColdCache bool   `long:"cold-cache" description:"Drop kernel filesystem caches before running Command, for repeatable cold-cache traces"`
}

func (x *cmdPack) Execute(args []string) error {
	resetErrors()
	cfg := reprogoconfig.New(x.repDir())

	if x.Generate {
		return x.generate(cfg)
	}
	return x.trace(cfg)
}

func (x *cmdPack) repDir() string {
	return x.Name + ".rep"
}

// trace is the first phase: run (optionally) and ingest the command,
// build its provenance tree, classify every path, stage the package, and
// emit rep.config for review.
func (x *cmdPack) trace(cfg *reprogoconfig.Config) error {
	if x.Command == "" {
		return fmt.Errorf("--command is required unless --generate is given")
	}
	ctx := context.Background()

	s := store.NewMemStore()
	defer s.Close(ctx)

	sessionDir := filepath.Join(cfg.RepDir, ".session")
	cmdline := strings.Fields(x.Command)

	if x.Execute {
		if x.ColdCache {
			verbosef("dropping kernel filesystem caches")
			if err := probe.FreeCaches(); err != nil {
				return err
			}
		}

		verbosef("running %q under the kernel probe", x.Command)
		tr := probe.Tracer{ProbePath: x.Probe}
		env := append(os.Environ(), x.Env...)
		sess, err := tr.Start(sessionDir, cmdline, env, os.Stdout, os.Stderr)
		if err != nil {
			return err
		}
		if err := sess.Wait(); err != nil {
			logError(fmt.Errorf("traced command exited with an error: %w", err))
		}
	}

	traceFile := filepath.Join(sessionDir, "pass-lite.out")
	f, err := os.Open(traceFile)
	if err != nil {
		return fmt.Errorf("opening kernel-probe trace %s: %w", traceFile, err)
	}
	defer f.Close()

	verbosef("ingesting trace from %s", traceFile)
	if err := ingest.New(s, cfg).Run(ctx, f); err != nil {
		return err
	}

	tree, err := provenance.Build(ctx, s, x.Command)
	if err != nil {
		return err
	}

	verbosef("classifying %d observed paths", len(tree.Nodes()))
	result := classify.Tree(tree, classify.DefaultPathLookup(os.Getenv("PATH")))

	plan, err := pack.Build(cfg, tree.Root, result, pack.RealFS{}, symlink.DefaultResolver(), pack.Options{
		LdconfigLister: ldconfigLister,
	})
	if err != nil {
		return err
	}

	if err := pack.WriteLaunchScript(cfg, tree.Root.PWD, plan.Env, plan.Argv); err != nil {
		return err
	}
	if err := pack.WriteSymlinksFile(cfg, plan.SymlinkPlan); err != nil {
		return err
	}
	if err := pack.WriteConfigFilesList(cfg, plan.ConfigFiles); err != nil {
		return err
	}
	if err := pack.WriteRepConfig(cfg, plan.Manifest); err != nil {
		return err
	}

	fmt.Printf("staged %d files under %s; review %s, then run pack --generate --name %s\n",
		len(plan.Manifest), cfg.RepDir, filepath.Join(cfg.RepDir, "rep.config"), x.Name)
	return nil
}

// generate is the second phase: read the reviewed rep.config and emit
// the archive.
func (x *cmdPack) generate(cfg *reprogoconfig.Config) error {
	repConfigPath := filepath.Join(cfg.RepDir, "rep.config")
	review, err := pack.ReadRepConfig(repConfigPath)
	if err != nil {
		return &reprogoerrors.ArchiveError{Path: repConfigPath, Err: err}
	}

	archivePath := x.Name + ".tar.gz"
	if err := pack.WriteArchive(cfg.RepDir, archivePath, review.ExcludedByRel); err != nil {
		return &reprogoerrors.ArchiveError{Path: archivePath, Err: err}
	}

	fmt.Printf("wrote %s\n", archivePath)
	return nil
}

// ldconfigLister shells out to ldconfig -p and parses the directories it
// reports, seeding the reproducer's LD_LIBRARY_PATH.
func ldconfigLister() []string {
	out, err := runCombinedOutput("ldconfig", "-p")
	if err != nil {
		logError(fmt.Errorf("listing ldconfig cache: %w", err))
		return nil
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, line := range strings.Split(string(out), "\n") {
		idx := strings.LastIndex(line, "=>")
		if idx < 0 {
			continue
		}
		path := strings.TrimSpace(line[idx+2:])
		dir := filepath.Dir(path)
		if dir != "." && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
