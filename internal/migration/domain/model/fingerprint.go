package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Fingerprint computes a canonical content hash of a document. Keys are
// sorted recursively before hashing so the result is independent of field
// order and of whether the driver decoded maps as bson.M or bson.D. Equal
// documents on source and target always produce equal fingerprints.
func Fingerprint(doc bson.M) string {
	h := sha256.New()
	writeCanonical(h, doc)
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintsEqual compares two documents by canonical fingerprint.
func FingerprintsEqual(a, b bson.M) bool {
	return Fingerprint(a) == Fingerprint(b)
}

func writeCanonical(w io.Writer, value interface{}) {
	switch v := value.(type) {
	case nil:
		io.WriteString(w, "z:null;")
	case bool:
		io.WriteString(w, "b:"+strconv.FormatBool(v)+";")
	case string:
		io.WriteString(w, "s:"+v+";")
	case int:
		io.WriteString(w, "i:"+strconv.FormatInt(int64(v), 10)+";")
	case int32:
		io.WriteString(w, "i:"+strconv.FormatInt(int64(v), 10)+";")
	case int64:
		io.WriteString(w, "i:"+strconv.FormatInt(v, 10)+";")
	case float64:
		// Integral floats hash like integers so that a value round-tripped
		// through a different numeric representation still matches.
		if v == float64(int64(v)) {
			io.WriteString(w, "i:"+strconv.FormatInt(int64(v), 10)+";")
		} else {
			io.WriteString(w, "f:"+strconv.FormatFloat(v, 'g', -1, 64)+";")
		}
	case time.Time:
		io.WriteString(w, "t:"+v.UTC().Format(time.RFC3339Nano)+";")
	case primitive.DateTime:
		io.WriteString(w, "t:"+v.Time().UTC().Format(time.RFC3339Nano)+";")
	case primitive.ObjectID:
		io.WriteString(w, "o:"+v.Hex()+";")
	case primitive.Decimal128:
		io.WriteString(w, "d:"+v.String()+";")
	case primitive.Timestamp:
		io.WriteString(w, "ts:"+strconv.FormatUint(uint64(v.T), 10)+"."+strconv.FormatUint(uint64(v.I), 10)+";")
	case primitive.Binary:
		io.WriteString(w, "x:"+hex.EncodeToString(v.Data)+";")
	case []byte:
		io.WriteString(w, "x:"+hex.EncodeToString(v)+";")
	case bson.M:
		writeCanonicalMap(w, v)
	case map[string]interface{}:
		writeCanonicalMap(w, v)
	case bson.D:
		m := make(map[string]interface{}, len(v))
		for _, e := range v {
			m[e.Key] = e.Value
		}
		writeCanonicalMap(w, m)
	case bson.A:
		writeCanonicalArray(w, v)
	case []interface{}:
		writeCanonicalArray(w, v)
	default:
		fmt.Fprintf(w, "v:%v;", v)
	}
}

func writeCanonicalMap(w io.Writer, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	io.WriteString(w, "{")
	for _, k := range keys {
		io.WriteString(w, "k:"+k+"=")
		writeCanonical(w, m[k])
	}
	io.WriteString(w, "}")
}

func writeCanonicalArray(w io.Writer, a []interface{}) {
	io.WriteString(w, "[")
	for _, item := range a {
		writeCanonical(w, item)
	}
	io.WriteString(w, "]")
}
