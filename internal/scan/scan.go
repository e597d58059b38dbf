// Package scan is the library entry point: it fans a set of input
// binaries out over a worker pool of scrapers sharing one storage
// backend.
package scan

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/qwattash/cheri-dwarf-scanner/internal/dwarfsrc"
	"github.com/qwattash/cheri-dwarf-scanner/internal/pool"
	"github.com/qwattash/cheri-dwarf-scanner/internal/scraper"
	"github.com/qwattash/cheri-dwarf-scanner/internal/store"
)

// Options configures a scan run.
type Options struct {
	// DBPath is the output database location. ":memory:" is accepted
	// for tests.
	DBPath string
	// StripPrefix, when set, makes stored file paths relative to it.
	StripPrefix string
	// Workers bounds the number of concurrent scrapers. Defaults to
	// the number of CPUs.
	Workers int
	// Logger receives scan diagnostics. Defaults to the standard
	// logrus logger.
	Logger logrus.Ext1FieldLogger
}

// Summary aggregates the per-input results of a run.
type Summary struct {
	Results []scraper.Result
	// Failed lists inputs that did not complete, with a one-line
	// reason each.
	Failed []string
}

// OK reports whether every input completed.
func (s *Summary) OK() bool { return len(s.Failed) == 0 }

// RunAll scrapes every input binary and returns the aggregated
// summary. Each path is processed by exactly one scraper; scraper
// failures are isolated per input and reported in the summary.
func RunAll(paths []string, opts Options) (*Summary, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	st, err := store.Open(opts.DBPath, log)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	ids := scraper.NewIDAlloc()
	p := pool.New(workers, log)
	defer p.Close()

	summary := &Summary{}
	type scheduled struct {
		path string
		src  dwarfsrc.Source
		fut  *pool.Future
	}
	var futures []scheduled
	for _, path := range paths {
		src, err := dwarfsrc.Open(path)
		if err != nil {
			log.WithError(err).Errorf("cannot open %s", path)
			summary.Failed = append(summary.Failed, fmt.Sprintf("%s: %v", path, err))
			summary.Results = append(summary.Results, scraper.Result{
				Path:   path,
				Errors: []string{err.Error()},
			})
			continue
		}
		s := scraper.New(src, st, ids, opts.StripPrefix, log)
		futures = append(futures, scheduled{path: path, src: src, fut: p.Schedule(s)})
	}

	p.Wait()
	for _, f := range futures {
		res, err := f.fut.Wait()
		f.src.Close()
		if res.Path == "" {
			res.Path = f.path
		}
		if err != nil {
			summary.Failed = append(summary.Failed, fmt.Sprintf("%s: %v", f.path, err))
		}
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}
