package roster

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/fetcher"
)

// Source identifies where the roster file lives and how to parse it.
// Supported schemes: local path, file://, http://, https://, ftp://.
// Format is inferred from the extension: .xlsx is a workbook, anything
// else is CSV.
type Source struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Sheet   string        `yaml:"sheet" mapstructure:"sheet"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Load fetches and parses the roster from the source.
func Load(ctx context.Context, src Source, d *diag.Counters) (*Roster, error) {
	if src.URL == "" {
		return nil, eris.New("roster: no source url configured")
	}

	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "roster: parse source url %s", src.URL)
	}

	isXLSX := strings.EqualFold(path.Ext(u.Path), ".xlsx") ||
		strings.EqualFold(filepath.Ext(src.URL), ".xlsx")

	localPath, cleanup, err := localize(ctx, u, src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	zap.L().Info("loading roster",
		zap.String("source", src.URL),
		zap.Bool("xlsx", isXLSX),
	)

	if isXLSX {
		return LoadXLSX(localPath, src.Sheet, d)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, eris.Wrap(err, "roster: open")
	}
	defer f.Close()
	return LoadCSV(f, d)
}

// localize ensures the roster bytes exist on local disk and returns the path.
// Remote sources download to a temp file the cleanup func removes.
func localize(ctx context.Context, u *url.URL, src Source) (string, func(), error) {
	noop := func() {}

	switch u.Scheme {
	case "", "file":
		p := u.Path
		if u.Scheme == "" {
			p = src.URL
		}
		return p, noop, nil

	case "http", "https", "ftp":
		var f fetcher.Fetcher
		if u.Scheme == "ftp" {
			f = fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: src.Timeout})
		} else {
			f = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: src.Timeout})
		}

		tmp, err := os.CreateTemp("", "roster-*"+path.Ext(u.Path))
		if err != nil {
			return "", noop, eris.Wrap(err, "roster: create temp file")
		}
		tmp.Close()

		if _, err := f.DownloadToFile(ctx, src.URL, tmp.Name()); err != nil {
			os.Remove(tmp.Name())
			return "", noop, eris.Wrapf(err, "roster: download %s", src.URL)
		}
		return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil

	default:
		return "", noop, eris.Errorf("roster: unsupported scheme %q", u.Scheme)
	}
}
