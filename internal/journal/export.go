package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"
)

const realtimeField = "__REALTIME_TIMESTAMP"

var exportParsers fastjson.ParserPool

// OpenExport loads journalctl JSON exports (journalctl -o json) into memory
// and returns a cursor over them. Files ending in .zst are decompressed.
func OpenExport(paths ...string) (Store, error) {
	m := NewMemory()
	for _, path := range paths {
		if err := loadExportFile(m, path); err != nil {
			return nil, err
		}
	}
	return m.Open(), nil
}

func loadExportFile(m *Memory, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return wrapError("open export", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return &Error{Op: "open export", Kind: KindCorrupt, Err: fmt.Errorf("%s: %w", path, err)}
		}
		defer dec.Close()
		r = dec
	}
	if err := LoadExport(m, r); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadExport appends every entry of a journalctl JSON export stream to m.
// A final line without a newline that does not parse is treated as a torn
// write and ignored. Entries without __REALTIME_TIMESTAMP are skipped.
func LoadExport(m *Memory, r io.Reader) error {
	p := exportParsers.Get()
	defer exportParsers.Put(p)

	reader := bufio.NewReaderSize(r, 64*1024)
	for lineNo := 1; ; lineNo++ {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return &Error{Op: "read export", Kind: KindIO, Err: err}
		}
		complete := len(line) > 0 && line[len(line)-1] == '\n'
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			v, perr := p.Parse(trimmed)
			switch {
			case perr != nil && !complete:
				return nil
			case perr != nil:
				return &Error{Op: "read export", Kind: KindCorrupt, Err: fmt.Errorf("line %d: %w", lineNo, perr)}
			}
			if usec, fields, ok := exportEntry(v); ok {
				m.Append(usec, fields)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func exportEntry(v *fastjson.Value) (uint64, map[string]string, bool) {
	obj, err := v.Object()
	if err != nil {
		return 0, nil, false
	}
	ts, err := strconv.ParseUint(string(v.GetStringBytes(realtimeField)), 10, 64)
	if err != nil {
		return 0, nil, false
	}

	fields := make(map[string]string, obj.Len())
	obj.Visit(func(key []byte, val *fastjson.Value) {
		name := string(key)
		if strings.HasPrefix(name, "__") {
			return
		}
		if s, ok := exportValue(val); ok {
			fields[name] = s
		}
	})
	return ts, fields, true
}

// exportValue decodes one field value. journalctl writes plain strings,
// byte arrays for binary data and arrays of either for repeated fields; the
// first value of a repeated field wins.
func exportValue(val *fastjson.Value) (string, bool) {
	switch val.Type() {
	case fastjson.TypeString:
		return string(val.GetStringBytes()), true
	case fastjson.TypeArray:
		arr, _ := val.Array()
		if len(arr) == 0 {
			return "", false
		}
		if arr[0].Type() != fastjson.TypeNumber {
			return exportValue(arr[0])
		}
		buf := make([]byte, 0, len(arr))
		for _, b := range arr {
			n, err := b.Int()
			if err != nil || n < 0 || n > 255 {
				return "", false
			}
			buf = append(buf, byte(n))
		}
		return string(buf), true
	default:
		return "", false
	}
}
