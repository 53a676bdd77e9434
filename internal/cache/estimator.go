package cache

import (
	"encoding/json"
	"reflect"
	"regexp"
	"time"
	"unicode/utf16"
)

// metadataOverhead is the fixed per-entry bookkeeping charge.
const metadataOverhead = 32

// defaultMaxSizeForPrecise bounds the fast estimate above which the precise
// walk is skipped.
const defaultMaxSizeForPrecise = 10 * 1024

// SizeEstimate breaks an entry's byte estimate into its parts.
type SizeEstimate struct {
	KeyBytes   int64
	ValueBytes int64
	Overhead   int64
	Total      int64
}

// SizeEstimator computes byte sizes for (key, value) pairs. It has a precise
// mode (recursive structural walk with cycle detection) and a fast mode (flat
// encoding-length approximation), selected adaptively by value size.
type SizeEstimator struct {
	// Precise forces the structural walk for every value.
	Precise bool

	// MaxSizeForPrecise is the fast-estimate ceiling above which the precise
	// walk is skipped. Zero means the default of 10 KiB.
	MaxSizeForPrecise int64
}

// NewSizeEstimator returns an estimator with the given mode.
func NewSizeEstimator(precise bool) *SizeEstimator {
	return &SizeEstimator{Precise: precise, MaxSizeForPrecise: defaultMaxSizeForPrecise}
}

// Estimate sizes a (key, value) pair using adaptive strategy selection.
func (s *SizeEstimator) Estimate(key string, value interface{}) SizeEstimate {
	if s.Precise {
		if est, ok := s.estimatePrecise(key, value); ok {
			return est
		}
		return s.estimateFast(key, value)
	}

	fast := s.estimateFast(key, value)
	limit := s.MaxSizeForPrecise
	if limit <= 0 {
		limit = defaultMaxSizeForPrecise
	}
	if fast.ValueBytes > limit {
		return fast
	}
	if est, ok := s.estimatePrecise(key, value); ok {
		return est
	}
	return fast
}

// estimateFast approximates the value size by its encoded length.
func (s *SizeEstimator) estimateFast(key string, value interface{}) SizeEstimate {
	est := SizeEstimate{
		KeyBytes: int64(len(key)) * 2,
		Overhead: metadataOverhead,
	}

	switch v := value.(type) {
	case nil:
		est.ValueBytes = 4
	case string:
		est.ValueBytes = int64(len(v)) * 2
	case bool:
		est.ValueBytes = 4
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		est.ValueBytes = 8
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			est.ValueBytes = 1024
		} else {
			est.ValueBytes = int64(len(encoded)) * 2
		}
	}

	est.Total = est.KeyBytes + est.ValueBytes + est.Overhead
	return est
}

// estimatePrecise walks the value structurally. Returns ok=false if the walk
// panics on an unsupported shape, letting the caller fall back to fast mode.
func (s *SizeEstimator) estimatePrecise(key string, value interface{}) (est SizeEstimate, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	visited := make(map[uintptr]bool)
	est = SizeEstimate{
		KeyBytes:   utf16Bytes(key),
		ValueBytes: sizeOfValue(reflect.ValueOf(value), visited),
		Overhead:   metadataOverhead,
	}
	est.Total = est.KeyBytes + est.ValueBytes + est.Overhead
	return est, true
}

// utf16Bytes counts the UTF-16 encoding length of a string in bytes,
// accounting for surrogate pairs.
func utf16Bytes(s string) int64 {
	var units int64
	for _, r := range s {
		if utf16.IsSurrogate(r) || r > 0xFFFF {
			units += 2
		} else {
			units++
		}
	}
	return units * 2
}

func sizeOfValue(v reflect.Value, visited map[uintptr]bool) int64 {
	if !v.IsValid() {
		return 4
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return 4
		}
		return sizeOfValue(v.Elem(), visited)

	case reflect.Ptr:
		if v.IsNil() {
			return 4
		}
		addr := v.Pointer()
		if visited[addr] {
			return 0
		}
		visited[addr] = true
		if special, handled := sizeOfKnownType(v.Interface()); handled {
			return special
		}
		return sizeOfValue(v.Elem(), visited)

	case reflect.String:
		return utf16Bytes(v.String())

	case reflect.Bool:
		return 4

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return 8

	case reflect.Slice:
		if v.IsNil() {
			return 4
		}
		addr := v.Pointer()
		if visited[addr] {
			return 0
		}
		visited[addr] = true
		return sizeOfSequence(v, visited)

	case reflect.Array:
		return sizeOfSequence(v, visited)

	case reflect.Map:
		if v.IsNil() {
			return 4
		}
		addr := v.Pointer()
		if visited[addr] {
			return 0
		}
		visited[addr] = true
		return sizeOfMap(v, visited)

	case reflect.Struct:
		if special, handled := sizeOfKnownType(v.Interface()); handled {
			return special
		}
		var total int64 = 32
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				total += 8
				continue
			}
			name := v.Type().Field(i).Name
			total += utf16Bytes(name) + sizeOfValue(v.Field(i), visited) + 16
		}
		return total

	case reflect.Func:
		return 64

	default:
		return 8
	}
}

func sizeOfSequence(v reflect.Value, visited map[uintptr]bool) int64 {
	var total int64 = 24
	for i := 0; i < v.Len(); i++ {
		total += sizeOfValue(v.Index(i), visited)
	}
	return total
}

func sizeOfMap(v reflect.Value, visited map[uintptr]bool) int64 {
	var total int64 = 32
	stringKeyed := v.Type().Key().Kind() == reflect.String
	iter := v.MapRange()
	for iter.Next() {
		if stringKeyed {
			total += utf16Bytes(iter.Key().String()) + sizeOfValue(iter.Value(), visited) + 16
		} else {
			total += sizeOfValue(iter.Key(), visited) + sizeOfValue(iter.Value(), visited) + 16
		}
	}
	return total
}

// sizeOfKnownType handles types with fixed costing.
func sizeOfKnownType(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case time.Time, *time.Time:
		return 24, true
	case *regexp.Regexp:
		if v == nil {
			return 4, true
		}
		return 48 + utf16Bytes(v.String()), true
	case regexp.Regexp:
		return 48, true
	default:
		return 0, false
	}
}
