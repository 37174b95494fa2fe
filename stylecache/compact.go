package stylecache

import (
	"bytes"
	"errors"
	"io"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// Compact removes comments and collapses whitespace runs to a single space.
// Strings, urls and all other tokens are copied through untouched.
func Compact(src []byte) ([]byte, error) {
	l := css.NewLexer(parse.NewInputBytes(src))
	out := bytes.NewBuffer(make([]byte, 0, len(src)))
	pendingSpace := false

	for {
		tt, text := l.Next()
		switch tt {
		case css.ErrorToken:
			if err := l.Err(); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return bytes.TrimSpace(out.Bytes()), nil
		case css.CommentToken, css.WhitespaceToken:
			pendingSpace = out.Len() > 0
			continue
		}
		if pendingSpace {
			if !tightAfter(out.Bytes()) && !tightBefore(tt, text) {
				out.WriteByte(' ')
			}
			pendingSpace = false
		}
		out.Write(text)
	}
}

// tightAfter reports whether whitespace after the last written byte is
// insignificant.
func tightAfter(b []byte) bool {
	switch b[len(b)-1] {
	case '{', '}', ';', ',', '>':
		return true
	}
	return false
}

func tightBefore(tt css.TokenType, text []byte) bool {
	switch tt {
	case css.LeftBraceToken, css.RightBraceToken, css.SemicolonToken, css.CommaToken:
		return true
	case css.DelimToken:
		return len(text) == 1 && text[0] == '>'
	}
	return false
}
