package parser

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// candidateEncodings are tried in order after UTF-8. The order matters:
// GBK is a superset of GB2312, and almost any byte soup decodes under
// Latin-1, so it goes last.
var candidateEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"gbk", simplifiedchinese.GBK},
	{"gb2312", simplifiedchinese.HZGB2312},
	{"big5", traditionalchinese.Big5},
	{"shift-jis", japanese.ShiftJIS},
	{"euc-kr", korean.EUCKR},
	{"iso-8859-1", charmap.ISO8859_1},
	{"cp1252", charmap.Windows1252},
}

// DecodeText converts bytes in an unknown encoding to UTF-8, returning
// the text and the detected encoding name.
func DecodeText(data []byte) (string, string) {
	if bytes.HasPrefix(data, utf8BOM) {
		return string(bytes.TrimPrefix(data, utf8BOM)), "utf-8-bom"
	}
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	for _, c := range candidateEncodings {
		decoded, err := c.enc.NewDecoder().Bytes(data)
		// Decoders substitute U+FFFD instead of failing; a replacement
		// char means the guess was wrong.
		if err == nil && utf8.Valid(decoded) && !bytes.ContainsRune(decoded, utf8.RuneError) {
			return string(decoded), c.name
		}
	}
	// Latin-1 cannot fail: map bytes to code points directly.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), "latin-1"
}
