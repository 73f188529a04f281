// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSpeech/pkg/logging"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/compute"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/config"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/fsa"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/intersect"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/store"
)

// GraphFile is the on-disk form of a decoding-graph batch.
type GraphFile struct {
	Graphs []GraphSpec `json:"graphs"`
}

// GraphSpec is one decoding graph: a state count plus its arcs grouped
// by source state.
type GraphSpec struct {
	NumStates int32     `json:"num_states"`
	Arcs      []fsa.Arc `json:"arcs"`
}

// ScoresFile is the on-disk form of an emission batch: per sequence,
// per frame, per column log-likelihoods. Column 0 is the final symbol.
type ScoresFile struct {
	Sequences [][][]float32 `json:"sequences"`
	// UtteranceIDs optionally names each sequence; used as store keys.
	UtteranceIDs []string `json:"utterance_ids,omitempty"`
}

// DecodeResult is what the decode command prints: one lattice per
// sequence plus the flat arc maps.
type DecodeResult struct {
	RunID    string        `json:"run_id"`
	Lattices []LatticeSpec `json:"lattices"`
	ArcMapA  []int32       `json:"arc_map_a"`
	ArcMapB  []int32       `json:"arc_map_b"`
}

// LatticeSpec is one sequence's pruned lattice.
type LatticeSpec struct {
	UtteranceID string    `json:"utterance_id,omitempty"`
	NumStates   int32     `json:"num_states"`
	Arcs        []fsa.Arc `json:"arcs"`
}

func newDecodeCmd() *cobra.Command {
	var (
		graphPath  string
		scoresPath string
		configPath string
		storeDir   string
		outPath    string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a batch of sequences against decoding graphs",
		Long: `Reads a graph batch and an emission batch from JSON files, runs the
pruned intersection, and writes the lattices as JSON to stdout or a
file. With --store-dir, lattices are also persisted to a local
BadgerDB keyed by utterance ID.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if verbose {
				level = logging.LevelDebug
			}
			logger := logging.New(logging.Config{Level: level, Service: "decoder-cli"})
			defer logger.Close()

			return runDecode(cmd.Context(), logger, graphPath, scoresPath, configPath, storeDir, outPath)
		},
	}

	cmd.Flags().StringVar(&graphPath, "graph", "", "JSON file with the decoding graphs (required)")
	cmd.Flags().StringVar(&scoresPath, "scores", "", "JSON file with the emission scores (required)")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML decoding profile (defaults to the embedded profile)")
	cmd.Flags().StringVar(&storeDir, "store-dir", "", "persist lattices to a BadgerDB at this directory")
	cmd.Flags().StringVar(&outPath, "output", "", "write the result JSON here instead of stdout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("graph")
	_ = cmd.MarkFlagRequired("scores")
	return cmd
}

func runDecode(ctx context.Context, logger *logging.Logger,
	graphPath, scoresPath, configPath, storeDir, outPath string,
) error {
	runID := uuid.NewString()
	log := logger.With("run_id", runID)

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			log.Error("config load failed", "path", configPath, "error", err.Error())
			return err
		}
	}

	graphs, err := loadGraphs(graphPath)
	if err != nil {
		log.Error("graph load failed", "path", graphPath, "error", err.Error())
		return err
	}
	scoresFile, emissions, err := loadScores(scoresPath)
	if err != nil {
		log.Error("scores load failed", "path", scoresPath, "error", err.Error())
		return err
	}
	log.Info("decode started",
		"graphs", graphs.Dim0(),
		"sequences", emissions.Dim0(),
		"max_frames", emissions.MaxFrames())

	var ccOpts []compute.Option
	if cfg.Workers > 0 {
		ccOpts = append(ccOpts, compute.WithWorkers(cfg.Workers))
	}
	cc := compute.NewHostContext(ccOpts...)

	out, arcMapA, arcMapB, err := intersect.IntersectDensePruned(ctx, cc, graphs, emissions, intersect.Options{
		SearchBeam: cfg.SearchBeam,
		OutputBeam: cfg.OutputBeam,
		MinActive:  cfg.MinActive,
		MaxActive:  cfg.MaxActive,
	})
	if err != nil {
		log.Error("decode failed", "error", err.Error())
		return err
	}

	result := buildResult(runID, out, arcMapA, arcMapB, scoresFile.UtteranceIDs)

	if storeDir != "" {
		if err := storeLattices(storeDir, result, logger); err != nil {
			log.Error("lattice store failed", "error", err.Error())
			return err
		}
	}

	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, raw, 0640); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	} else {
		fmt.Println(string(raw))
	}

	log.Info("decode finished", "lattice_arcs", len(out.Arcs))
	return nil
}

func loadGraphs(path string) (*fsa.FsaVec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graphs: %w", err)
	}
	var file GraphFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse graphs: %w", err)
	}
	numStates := make([]int32, len(file.Graphs))
	arcs := make([][]fsa.Arc, len(file.Graphs))
	for i, g := range file.Graphs {
		numStates[i] = g.NumStates
		arcs[i] = g.Arcs
	}
	return fsa.NewFsaVec(numStates, arcs)
}

func loadScores(path string) (*ScoresFile, *fsa.DenseFsaVec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read scores: %w", err)
	}
	var file ScoresFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("parse scores: %w", err)
	}
	emissions, err := fsa.NewDenseFsaVec(file.Sequences)
	if err != nil {
		return nil, nil, err
	}
	return &file, emissions, nil
}

// buildResult splits the batched lattice into per-sequence specs. The
// arc maps stay flat: their indices line up with the concatenation of
// all lattices' arcs.
func buildResult(runID string, out *fsa.FsaVec, arcMapA, arcMapB []int32, ids []string) *DecodeResult {
	result := &DecodeResult{RunID: runID, ArcMapA: arcMapA, ArcMapB: arcMapB}
	stateSplits := out.Shape.RowSplits(1)
	arcSplits := out.Shape.RowSplits(2)
	for f := int32(0); f < out.Dim0(); f++ {
		lo, hi := stateSplits[f], stateSplits[f+1]
		spec := LatticeSpec{
			NumStates: hi - lo,
			Arcs:      out.Arcs[arcSplits[lo]:arcSplits[hi]],
		}
		if int(f) < len(ids) {
			spec.UtteranceID = ids[f]
		}
		result.Lattices = append(result.Lattices, spec)
	}
	return result
}

func storeLattices(dir string, result *DecodeResult, logger *logging.Logger) error {
	st, err := store.Open(store.DefaultConfig(dir))
	if err != nil {
		return err
	}
	defer st.Close()

	for i, lat := range result.Lattices {
		key := lat.UtteranceID
		if key == "" {
			key = fmt.Sprintf("%s/%d", result.RunID, i)
		}
		lo, hi := arcRange(result, i)
		err := st.Put(key, &store.Lattice{
			NumStates: lat.NumStates,
			Arcs:      lat.Arcs,
			ArcMapA:   result.ArcMapA[lo:hi],
			ArcMapB:   result.ArcMapB[lo:hi],
		})
		if err != nil {
			return err
		}
		logger.Debug("lattice persisted", "key", key, "arcs", len(lat.Arcs))
	}
	return nil
}

// arcRange returns the flat arc-map range covered by lattice i.
func arcRange(result *DecodeResult, i int) (int, int) {
	lo := 0
	for j := 0; j < i; j++ {
		lo += len(result.Lattices[j].Arcs)
	}
	return lo, lo + len(result.Lattices[i].Arcs)
}
