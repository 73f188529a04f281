// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compute provides the execution substrate for the decoder's
// per-element kernels.
//
// The single primitive is Run(ctx, n, f): apply f(i) for 0 <= i < n
// with no ordering guarantees between invocations. Small index spaces
// run serially for cache locality; large ones are chunked across a
// bounded worker pool. Kernel completion is the only synchronisation
// point, so callers see fully materialised outputs after Run returns.
//
// Kernels must write to disjoint indices, or coordinate through the
// atomic helpers in this package.
package compute

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Parallel execution configuration defaults.
const (
	// defaultParallelThreshold is the minimum index-space size to
	// trigger parallel execution. Smaller kernels run serially for
	// better cache locality.
	defaultParallelThreshold = 4096

	// defaultMaxWorkers caps the number of goroutines regardless of
	// CPU count. The kernels are memory-bound.
	defaultMaxWorkers = 8

	// cancelCheckStride is how often a serial run polls ctx.Done().
	cancelCheckStride = 8192
)

// Sentinel errors for context construction and kernel execution.
var (
	ErrNegativeSize = errors.New("kernel size must be non-negative")
	ErrNilKernel    = errors.New("kernel function must not be nil")
)

// Context describes where and how kernels execute.
//
// The zero value is not usable; construct with NewHostContext. A single
// Context is shared by every array and kernel of one decode, mirroring
// a device stream: kernels launched on it run in program order.
//
// Thread Safety: safe for concurrent use; Run launches are independent.
type Context struct {
	workers   int
	threshold int
}

// Option configures a Context.
type Option func(*Context)

// WithWorkers sets the worker-pool size for parallel kernels.
// Values below 1 fall back to the default cap.
func WithWorkers(n int) Option {
	return func(c *Context) {
		if n >= 1 {
			c.workers = n
		}
	}
}

// WithParallelThreshold sets the minimum kernel size that runs in
// parallel. Useful for tests that want to force one mode.
func WithParallelThreshold(n int) Option {
	return func(c *Context) {
		if n >= 0 {
			c.threshold = n
		}
	}
}

// NewHostContext returns a Context executing kernels on the host CPU.
func NewHostContext(opts ...Option) *Context {
	c := &Context{
		workers:   min(defaultMaxWorkers, runtime.NumCPU()),
		threshold: defaultParallelThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Workers returns the configured worker-pool size.
func (c *Context) Workers() int { return c.workers }

// Run applies f(i) for every 0 <= i < n.
//
// Description:
//
//	Below the parallel threshold the kernel runs serially on the
//	calling goroutine, polling ctx periodically. Above it, the index
//	space is split into contiguous chunks, one per worker. There are
//	no ordering guarantees between invocations of f.
//
// Inputs:
//   - ctx: cancellation context. Must not be nil.
//   - n: index-space size.
//   - f: the kernel. Must not be nil. Must not panic.
//
// Outputs:
//   - error: non-nil on invalid input or cancellation. On
//     cancellation, an unspecified subset of indices has been applied.
func (c *Context) Run(ctx context.Context, n int, f func(i int)) error {
	if ctx == nil {
		return errors.New("ctx must not be nil")
	}
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeSize, n)
	}
	if f == nil {
		return ErrNilKernel
	}
	if n == 0 {
		return nil
	}

	if n < c.threshold || c.workers <= 1 {
		for i := 0; i < n; i++ {
			if i%cancelCheckStride == 0 {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("kernel cancelled at %d/%d: %w", i, n, err)
				}
			}
			f(i)
		}
		return nil
	}

	workers := c.workers
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if (i-lo)%cancelCheckStride == 0 && ctx.Err() != nil {
					return
				}
				f(i)
			}
		}(lo, hi)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("kernel cancelled: %w", err)
	}
	return nil
}
