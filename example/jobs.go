package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DemoKeys are the keys the demo client subscribes to.
var DemoKeys = []string{"temperature", "humidity", "status"}

var demoJobs = []string{
	"WRITE [(temperature,21)(humidity,40)(status,ok)]\nSHOW\n",
	"WRITE [(temperature,23)]\nREAD [temperature,pressure]\nBACKUP\n",
	"DELETE [humidity,pressure]\nWAIT 500\nWRITE [(status,degraded)]\n",
	"# end of demo\nSHOW\nBACKUP\n",
}

// FeedDemoJobs drops one job file into dir every interval until all demo jobs
// are written or ctx is done. Files are renamed into place so the watcher only
// ever sees complete jobs.
func FeedDemoJobs(ctx context.Context, dir string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i, job := range demoJobs {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		name := fmt.Sprintf("demo%02d", i)
		tmp := filepath.Join(dir, name+".tmp")
		if err := os.WriteFile(tmp, []byte(job), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "failed to write demo job:", err)
			return
		}
		if err := os.Rename(tmp, filepath.Join(dir, name+".job")); err != nil {
			fmt.Fprintln(os.Stderr, "failed to publish demo job:", err)
			return
		}
	}
}
