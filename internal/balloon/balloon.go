// Package balloon runs an idle process with a chosen OOM priority, as a
// way to observe which processes the OOM killer selects under pressure.
package balloon

import (
	"context"
	"os"

	"k8s.io/klog/v2"

	"github.com/lutaod/memhog/internal/oomadj"
)

// Run writes score to the OOM-adjust control file at path and then idles
// until ctx is done.
func Run(ctx context.Context, path string, score int) error {
	if err := oomadj.SetFile(path, score); err != nil {
		return err
	}
	klog.InfoS("oom_score_adj set", "pid", os.Getpid(), "score", score)

	<-ctx.Done()
	return nil
}
