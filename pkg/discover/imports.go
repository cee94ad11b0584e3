package discover

// stdlibQualifiers maps package qualifiers whose import path differs from or
// is not derivable from accumulated imports, covering the standard library
// packages whose types commonly surface in diagnostics.
var stdlibQualifiers = map[string]string{
	"bufio":    "bufio",
	"bytes":    "bytes",
	"cmp":      "cmp",
	"context":  "context",
	"errors":   "errors",
	"fmt":      "fmt",
	"io":       "io",
	"fs":       "io/fs",
	"math":     "math",
	"big":      "math/big",
	"bits":     "math/bits",
	"rand":     "math/rand",
	"net":      "net",
	"http":     "net/http",
	"url":      "net/url",
	"os":       "os",
	"exec":     "os/exec",
	"path":     "path",
	"filepath": "path/filepath",
	"reflect":  "reflect",
	"regexp":   "regexp",
	"slices":   "slices",
	"sort":     "sort",
	"strconv":  "strconv",
	"strings":  "strings",
	"sync":     "sync",
	"atomic":   "sync/atomic",
	"time":     "time",
	"unicode":  "unicode",
	"utf8":     "unicode/utf8",
	"json":     "encoding/json",
	"base64":   "encoding/base64",
	"hex":      "encoding/hex",
	"maps":     "maps",
}

func stdlibImport(qualifier string) (string, bool) {
	path, ok := stdlibQualifiers[qualifier]
	return path, ok
}
