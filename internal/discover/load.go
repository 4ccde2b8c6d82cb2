package discover

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// fallbackEncodings are tried in order when a file is not valid UTF-8.
var fallbackEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"gbk", simplifiedchinese.GBK},
	{"latin-1", charmap.ISO8859_1},
}

// Load reads every file concurrently and returns contents keyed by RelPath,
// transcoded to UTF-8. Per-file failures are returned alongside whatever
// could be read.
func Load(ctx context.Context, files []FileInfo) (map[string][]byte, []error) {
	var (
		mu       sync.Mutex
		contents = make(map[string][]byte, len(files))
		errs     []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := readSource(f.Path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("read %s: %w", f.RelPath, err))
				return nil
			}
			contents[f.RelPath] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return contents, errs
}

func readSource(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode returns raw as UTF-8, stripping a BOM and falling back to GBK and
// then Latin-1 for files that are not valid UTF-8.
func Decode(raw []byte) ([]byte, error) {
	if len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF {
		raw = raw[3:]
	}
	if utf8.Valid(raw) {
		return raw, nil
	}
	for _, fe := range fallbackEncodings {
		out, err := fe.enc.NewDecoder().Bytes(raw)
		if err == nil && utf8.Valid(out) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("cannot decode file")
}
