package producer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"phasegate/internal/domain"
)

// File reads artifacts written by an external tool. It looks for
// <dir>/<phase>/iter_<attempt>.md and falls back to <dir>/<phase>.md.
type File struct {
	Dir string
}

// Candidates lists the paths tried for req, in order.
func (f File) Candidates(req domain.ProduceRequest) []string {
	phase := strings.ToLower(string(req.Phase))
	return []string{
		filepath.Join(f.Dir, phase, fmt.Sprintf("iter_%d.md", req.Attempt)),
		filepath.Join(f.Dir, phase+".md"),
	}
}

func (f File) Produce(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}
	for _, path := range f.Candidates(req) {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return domain.Artifact{}, unavailable(req, "read %s: %v", path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return domain.Artifact{}, unavailable(req, "%s is empty", path)
		}
		return domain.Artifact{Phase: req.Phase, Iteration: req.Attempt, Content: string(data), Source: path}, nil
	}
	return domain.Artifact{}, unavailable(req, "no file under %s", f.Dir)
}
