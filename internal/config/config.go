// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"encoding/json"
	"os"
	"runtime"
	"time"
)

// Config is the pipeline's full configuration surface.
type Config struct {
	BindAddress string `json:"bind_address"`

	FecWorkers   int `json:"fec_workers"`
	BatchWorkers int `json:"batch_workers"`

	IngressQueue int `json:"ingress_queue"`
	FecQueue     int `json:"fec_queue"`
	BatchQueue   int `json:"batch_queue"`

	// FecGCInterval/FecTTL and SlotGCInterval/SlotTTL override the FEC
	// accumulator sweep and the slot-batch dispatcher sweep, in seconds.
	// 0 leaves the package default in place (30/30 and 1/30 respectively).
	FecGCInterval  int `json:"fec_gc_interval"`
	FecTTL         int `json:"fec_ttl"`
	SlotGCInterval int `json:"slot_gc_interval"`
	SlotTTL        int `json:"slot_ttl"`

	Metrics     bool   `json:"metrics"`
	MetricsAddr string `json:"metrics_addr"`

	Log   string `json:"log"`
	Quiet bool   `json:"quiet"`
}

// Default returns a Config populated with the pipeline's baseline sizing
// and cadences.
func Default() Config {
	return Config{
		BindAddress:  ":8001",
		IngressQueue: 10000,
		FecQueue:     1000,
		BatchQueue:   10000,
		MetricsAddr:  ":9090",
	}
}

// ParseJSONFile overrides cfg's fields from a JSON file, in the `-c
// config.json` idiom: fields absent from the file keep cfg's existing
// values.
func ParseJSONFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cfg)
}

// ResolveFecWorkers derives the FEC worker pool size: max(NumCPU-2, 2),
// unless explicitly overridden.
func (c Config) ResolveFecWorkers() int {
	if c.FecWorkers > 0 {
		return c.FecWorkers
	}
	return maxInt(runtime.NumCPU()-2, 2)
}

// ResolveBatchWorkers derives the batch worker pool size: max(NumCPU-3, 1),
// unless explicitly overridden.
func (c Config) ResolveBatchWorkers() int {
	if c.BatchWorkers > 0 {
		return c.BatchWorkers
	}
	return maxInt(runtime.NumCPU()-3, 1)
}

// ResolveFecGCInterval returns the FEC accumulator sweep cadence, in seconds.
func (c Config) ResolveFecGCInterval() time.Duration {
	return time.Duration(c.FecGCInterval) * time.Second
}

// ResolveFecTTL returns the FEC accumulator eviction horizon, in seconds.
func (c Config) ResolveFecTTL() time.Duration {
	return time.Duration(c.FecTTL) * time.Second
}

// ResolveSlotGCInterval returns the slot-batch dispatcher sweep cadence, in
// seconds.
func (c Config) ResolveSlotGCInterval() time.Duration {
	return time.Duration(c.SlotGCInterval) * time.Second
}

// ResolveSlotTTL returns the slot-batch dispatcher eviction horizon, in
// seconds.
func (c Config) ResolveSlotTTL() time.Duration {
	return time.Duration(c.SlotTTL) * time.Second
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
