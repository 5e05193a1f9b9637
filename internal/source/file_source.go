package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/model"
)

// FileSource reads newline-delimited JSON documents from a file, the
// file-backed counterpart to InMemorySource — grounded on the same
// read-and-batch shape as the teacher's StreamDocuments cursor loop, with a
// bufio.Scanner standing in for the Mongo cursor. StartOffset skips that
// many lines before batching begins, so a respawned pipeline resumes where
// the last published checkpoint left off.
type FileSource struct {
	cfg  Config
	path string
}

func NewFileSource(cfg Config, path string) *FileSource {
	return &FileSource{cfg: cfg, path: path}
}

func (s *FileSource) Run(ctx context.Context, k *actor.KillSwitch, indexer *actor.Mailbox[model.RawDocBatch]) actor.ExitStatus {
	f, err := os.Open(s.path)
	if err != nil {
		return actor.ExitFailure
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for i := int64(0); i < s.cfg.StartOffset; i++ {
		if !scanner.Scan() {
			break
		}
	}

	batchSize := s.cfg.batchSize()
	var pending []string
	eof := false

	next := func() ([]string, bool) {
		for !eof && len(pending) < batchSize {
			if !scanner.Scan() {
				eof = true
				break
			}
			line := scanner.Text()
			if line == "" {
				continue
			}
			pending = append(pending, line)
		}
		if len(pending) == 0 {
			return nil, false
		}
		n := batchSize
		if n > len(pending) {
			n = len(pending)
		}
		batch := pending[:n]
		pending = pending[n:]
		return batch, true
	}

	status := sendBatches(ctx, k, indexer, s.cfg.StartOffset, next)
	if err := scanner.Err(); err != nil && err != io.EOF && status == actor.ExitSuccess {
		return actor.ExitFailure
	}
	return status
}

func (s *FileSource) Health() actor.HealthState { return actor.Healthy }

var _ Source = (*FileSource)(nil)

// WriteLines is a small test/seed helper: writes docs one per line to path,
// the inverse of what FileSource reads.
func WriteLines(path string, docs []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("source: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, d := range docs {
		if _, err := w.WriteString(d); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
