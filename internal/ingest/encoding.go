package ingest

import (
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const bom = "\uFEFF"

// Decode returns a UTF-8 reader over r. With an explicit charset the input
// is decoded with it. Otherwise valid UTF-8 passes through and anything else
// is decoded as GB18030, the superset of GBK that exported spreadsheets use.
func Decode(r io.Reader, charset string) (io.Reader, error) {
	if charset != "" {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: unsupported encoding %q", charset)
		}
		return enc.NewDecoder().Reader(r), nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read input")
	}
	if utf8.Valid(data) {
		return bytes.NewReader(data), nil
	}

	out, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: decode gb18030")
	}
	return bytes.NewReader(out), nil
}
