package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoPrice     = errors.New("no usable price in message")
	ErrNotAnObject = errors.New("message is not a JSON object")
)

// DecodeObject 解析 JSON 对象；数字保留为 json.Number 以免丢精度
func DecodeObject(msg []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotAnObject
	}
	return m, nil
}

// Unwrap 若 key 对应的值是对象则返回它，否则返回原对象
func Unwrap(m map[string]any, key string) map[string]any {
	if inner, ok := m[key].(map[string]any); ok {
		return inner
	}
	return m
}

// PriceFrom 按候选字段顺序取第一个可解析为有限数值的价格
func PriceFrom(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := Float(m[k]); ok {
			return f, true
		}
	}
	return 0, false
}

// StringFrom 返回第一个非空字符串字段
func StringFrom(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// TimeFrom 解析候选时间字段，全部缺失时返回 now
func TimeFrom(m map[string]any, now time.Time, keys ...string) time.Time {
	for _, k := range keys {
		if t, ok := Timestamp(m[k]); ok {
			return t
		}
	}
	return now
}

// Float 接受数字或数字字符串，拒绝 NaN/Inf
func Float(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = x
	case int64:
		f = float64(x)
	case int:
		f = float64(x)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// 可接受的时间范围，超出时由调用方回退到 now
var (
	minTimestamp = time.Unix(0, 0)
	maxTimestamp = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// Timestamp 按数量级识别秒/毫秒/微秒/纳秒；字符串支持纯数字和 RFC3339
func Timestamp(v any) (time.Time, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, inRange(t)
		}
	}
	f, ok := Float(v)
	// int64 纳秒上限约 9.22e18
	if !ok || f <= 0 || f >= math.MaxInt64 {
		return time.Time{}, false
	}
	n := int64(f)
	var t time.Time
	switch {
	case n >= 1e17:
		t = time.Unix(0, n)
	case n >= 1e14:
		t = time.UnixMicro(n)
	case n >= 1e11:
		t = time.UnixMilli(n)
	default:
		t = time.Unix(n, 0)
	}
	return t, inRange(t)
}

func inRange(t time.Time) bool {
	return !t.Before(minTimestamp) && !t.After(maxTimestamp)
}
