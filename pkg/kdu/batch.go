package kdu

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// batchExtensions are the input files picked up by DirectoryJobs.
var batchExtensions = []string{".tif", ".tiff", ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}

// Job is one file to compress in a batch.
type Job struct {
	Input  string
	Output string
	Params *EncodeParams // nil uses the compressor's defaults
}

// Result reports how one Job went. Size and Checksum describe the output
// of a successful job.
type Result struct {
	Job      Job           `json:"job"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size,omitempty"`
	Checksum string        `json:"blake3,omitempty"`
}

// DirectoryJobs lists the image files directly inside inDir and pairs each
// with a .jp2 of the same base name in outDir. Inputs sharing a base name,
// like scan.tif and scan.png, keep their extension (scan.tif.jp2) so no two
// jobs write the same output.
func DirectoryJobs(inDir, outDir string, p *EncodeParams) ([]Job, error) {
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", inDir, err)
	}
	var names []string
	bases := map[string]int{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !slices.Contains(batchExtensions, ext) {
			continue
		}
		names = append(names, e.Name())
		bases[baseKey(e.Name())]++
	}

	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		out := strings.TrimSuffix(name, filepath.Ext(name))
		if bases[baseKey(name)] > 1 {
			out = name
		}
		jobs = append(jobs, Job{
			Input:  filepath.Join(inDir, name),
			Output: filepath.Join(outDir, out+jp2Ext),
			Params: p,
		})
	}
	return jobs, nil
}

// baseKey folds case so outputs stay distinct on case-insensitive disks.
func baseKey(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
}

// CompressFiles runs CompressFile for every job with at most concurrency
// engines at a time. A failed job does not stop the others; results are in
// job order. Jobs not yet started when ctx ends fail as interrupted.
func (c *Compressor) CompressFiles(ctx context.Context, jobs []Job, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			start := time.Now()
			r := Result{Job: job}
			if ctxErr := ctx.Err(); ctxErr != nil {
				r.Err = newError(KindInterrupted, "compress "+job.Input, ctxErr)
			} else {
				r.Err = c.CompressFile(ctx, job.Input, job.Output, job.Params)
			}
			if r.Err == nil {
				r.Size, r.Checksum, r.Err = checksum(job.Output)
			}
			r.Duration = time.Since(start)
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// checksum returns the size and hex BLAKE3 digest of the file at path.
func checksum(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", newError(KindExecution, "checksum "+path, err)
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", newError(KindExecution, "checksum "+path, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
