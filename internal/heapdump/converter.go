package heapdump

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Converter turns a raw heap dump into the final analyzable format.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// HprofConv shells out to the SDK's hprof-conv binary.
type HprofConv struct {
	Path string // converter binary, "hprof-conv" if empty
}

func (c HprofConv) Convert(ctx context.Context, src, dst string) error {
	bin := c.Path
	if bin == "" {
		bin = "hprof-conv"
	}
	cmd := exec.CommandContext(ctx, bin, src, dst)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s %s: %w: %s", bin, src, dst, err, buf.String())
	}
	return nil
}
