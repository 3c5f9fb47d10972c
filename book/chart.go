// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package book

import "strconv"

// Interval is a candle length.
type Interval struct {
	Name    string
	Seconds uint64
}

// Intervals lists every candle interval maintained per market, shortest first.
var Intervals = []Interval{
	{"1m", 60},
	{"3m", 3 * 60},
	{"5m", 5 * 60},
	{"10m", 10 * 60},
	{"15m", 15 * 60},
	{"30m", 30 * 60},
	{"1h", 60 * 60},
	{"2h", 2 * 60 * 60},
	{"4h", 4 * 60 * 60},
	{"6h", 6 * 60 * 60},
	{"1d", 24 * 60 * 60},
	{"1w", 7 * 24 * 60 * 60},
}

// ParseInterval looks up an interval by name.
func ParseInterval(name string) (Interval, bool) {
	for _, iv := range Intervals {
		if iv.Name == name {
			return iv, true
		}
	}
	return Interval{}, false
}

// Bucket returns the start of the bucket containing ts.
func (iv Interval) Bucket(ts uint64) uint64 {
	return ts / iv.Seconds * iv.Seconds
}

// MarketCode identifies a market direction.
func MarketCode(base, quote string) string {
	return base + "-" + quote
}

// ChartLogID identifies one candle.
func ChartLogID(base, quote, interval string, bucket uint64) string {
	return MarketCode(base, quote) + "-" + interval + "-" + strconv.FormatUint(bucket, 10)
}

// ChartBucket is the candle pair a trade at one timestamp lands in for one interval.
type ChartBucket struct {
	Interval   Interval
	Timestamp  uint64
	ID         string // base-quote market
	InvertedID string // quote-base market
}

// Buckets returns the candle pair for every interval in Intervals.
func Buckets(base, quote string, ts uint64) []ChartBucket {
	buckets := make([]ChartBucket, 0, len(Intervals))
	for _, iv := range Intervals {
		start := iv.Bucket(ts)
		buckets = append(buckets, ChartBucket{
			Interval:   iv,
			Timestamp:  start,
			ID:         ChartLogID(base, quote, iv.Name, start),
			InvertedID: ChartLogID(quote, base, iv.Name, start),
		})
	}
	return buckets
}
