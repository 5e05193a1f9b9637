package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/sudarshan/indexcore/internal/cli"
	"github.com/sudarshan/indexcore/internal/config"
	"github.com/sudarshan/indexcore/internal/dashboard"
)

// pipelinectl polls a running pipeline daemon's dashboard reports and
// renders them to the terminal, the monitoring counterpart to cmd/indexer
// the same way the teacher's own cmd/indexer -limit flag gives an operator
// a quick look at progress without attaching a debugger.
func main() {
	indexID := flag.String("index-id", "", "index id to watch (defaults to INDEX_ID from env/.env)")
	interval := flag.Duration("interval", 5*time.Second, "poll interval")
	once := flag.Bool("once", false, "print one snapshot and exit")
	target := flag.Uint64("target-docs", 0, "render a progress bar toward this many valid docs (0 disables the bar)")
	quiet := flag.Bool("quiet", false, "suppress non-essential output")
	flag.Parse()

	cfg := config.Load()
	watchIndex := cfg.IndexID
	if *indexID != "" {
		watchIndex = *indexID
	}

	reporter, err := dashboard.New(dashboard.Config{
		Hosts:       cfg.OpenSearchHosts,
		User:        cfg.OpenSearchUser,
		Password:    cfg.OpenSearchPassword,
		Index:       cfg.OpenSearchIndex,
		VerifyCerts: cfg.OpenSearchVerifyCerts,
	})
	if err != nil {
		log.Fatalf("pipelinectl: connect to dashboard index: %v", err)
	}

	out := cli.New(*quiet)
	ctx := context.Background()

	var bar *progressbar.ProgressBar
	if *target > 0 {
		bar = progressbar.NewOptions64(int64(*target),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", watchIndex)),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWriter(os.Stdout),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]█[reset]",
				SaucerHead:    "[green]█[reset]",
				SaucerPadding: "░",
				BarStart:      "|",
				BarEnd:        "|",
			}),
		)
	}

	for {
		report, err := reporter.LatestReport(ctx, watchIndex)
		if err != nil {
			out.Warning(err.Error())
		} else {
			out.PipelineStatus(report.Generation, 0, report.NumValidDocs, report.NumSplits, report.NumUploaded, report.NumPublished)
			if bar != nil {
				_ = bar.Set64(int64(report.NumValidDocs))
			}
		}

		if *once {
			return
		}
		time.Sleep(*interval)
	}
}
