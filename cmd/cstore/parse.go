package main

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/cstore"
)

// parseSchema parses a column list such as "id:int64,name:string".
func parseSchema(s string) (cstore.Schema, error) {
	var schema cstore.Schema
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, typ, ok := strings.Cut(part, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid column definition %q, expected name:type", part)
		}
		t, err := cstore.ParseType(typ)
		if err != nil {
			return nil, err
		}
		if schema.Index(name) != -1 {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		schema = append(schema, cstore.Column{Name: name, Type: t})
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is required")
	}
	return schema, nil
}

// parseColumns resolves a comma separated list of column names. An empty
// list selects all columns.
func parseColumns(schema cstore.Schema, s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return schema.All(), nil
	}

	var cols []int
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		c := schema.Index(name)
		if c < 0 {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

var (
	nullExpr = regexp.MustCompile(`(?i)^\s*(\w+)\s+IS\s+(NOT\s+)?NULL\s*$`)
	cmpExpr  = regexp.MustCompile(`^\s*(\w+)\s*(<=|>=|!=|<>|=|<|>)\s*(.*?)\s*$`)
)

var cmpOps = map[string]cstore.Op{
	"=":  cstore.Equal,
	"!=": cstore.NotEqual,
	"<>": cstore.NotEqual,
	"<":  cstore.Less,
	"<=": cstore.LessEqual,
	">":  cstore.Greater,
	">=": cstore.GreaterEqual,
}

// parseWhere parses a condition such as "score >= 4.5" or "name IS NULL".
func parseWhere(schema cstore.Schema, s string) (cstore.Predicate, error) {
	if m := nullExpr.FindStringSubmatch(s); m != nil {
		c := schema.Index(m[1])
		if c < 0 {
			return cstore.Predicate{}, fmt.Errorf("unknown column %q", m[1])
		}
		if m[2] != "" {
			return cstore.Predicate{Column: c, Op: cstore.IsNotNull}, nil
		}
		return cstore.Predicate{Column: c, Op: cstore.IsNull}, nil
	}

	m := cmpExpr.FindStringSubmatch(s)
	if m == nil {
		return cstore.Predicate{}, fmt.Errorf("invalid condition %q", s)
	}
	c := schema.Index(m[1])
	if c < 0 {
		return cstore.Predicate{}, fmt.Errorf("unknown column %q", m[1])
	}

	v, err := parseValue(schema[c].Type, strings.Trim(m[3], `'"`))
	if err != nil {
		return cstore.Predicate{}, fmt.Errorf("invalid condition %q: %w", s, err)
	}
	return cstore.Predicate{Column: c, Op: cmpOps[m[2]], Value: v}, nil
}

// parseValue converts the text form of a value. Bytes are hex encoded,
// timestamps are RFC 3339.
func parseValue(t cstore.Type, s string) (interface{}, error) {
	switch t {
	case cstore.TypeBool:
		return strconv.ParseBool(s)
	case cstore.TypeInt16:
		n, err := strconv.ParseInt(s, 10, 16)
		return int16(n), err
	case cstore.TypeInt32:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	case cstore.TypeInt64:
		return strconv.ParseInt(s, 10, 64)
	case cstore.TypeFloat32:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case cstore.TypeFloat64:
		return strconv.ParseFloat(s, 64)
	case cstore.TypeString:
		return s, nil
	case cstore.TypeBytes:
		return hex.DecodeString(s)
	case cstore.TypeTimestamp:
		return time.Parse(time.RFC3339Nano, s)
	}
	return nil, fmt.Errorf("unsupported type %v", t)
}

// formatValue is the inverse of parseValue.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case []byte:
		return hex.EncodeToString(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

// parseS3URL splits "s3://bucket/key".
func parseS3URL(s string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(s, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key, bucket != "" && key != ""
}
