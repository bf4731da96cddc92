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

package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli"

	"github.com/xtaci/shredstream/internal/config"
	"github.com/xtaci/shredstream/internal/pipeline"
	"github.com/xtaci/shredstream/internal/txhandler"
	"github.com/xtaci/shredstream/pkg/txevent"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "shredstream"
	myApp.Usage = "turbine shred FEC reconstruction pipeline"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: ":8001",
			Usage: "UDP address to receive shred fragments on",
		},
		cli.IntFlag{
			Name:  "fecworkers",
			Value: 0,
			Usage: "number of FEC reconstruction workers, 0 to derive from NumCPU",
		},
		cli.IntFlag{
			Name:  "batchworkers",
			Value: 0,
			Usage: "number of batch parsing workers, 0 to derive from NumCPU",
		},
		cli.IntFlag{
			Name:  "ingressqueue",
			Value: 10000,
			Usage: "ingress fan-out inbox capacity per FEC worker",
		},
		cli.IntFlag{
			Name:  "fecqueue",
			Value: 1000,
			Usage: "FEC output (dispatcher inbox) capacity",
		},
		cli.IntFlag{
			Name:  "batchqueue",
			Value: 10000,
			Usage: "batch worker inbox capacity",
		},
		cli.IntFlag{
			Name:  "fecgcinterval",
			Value: 30,
			Usage: "FEC accumulator sweep interval, in seconds",
		},
		cli.IntFlag{
			Name:  "fecttl",
			Value: 30,
			Usage: "FEC accumulator eviction horizon, in seconds",
		},
		cli.IntFlag{
			Name:  "slotgcinterval",
			Value: 1,
			Usage: "slot batch dispatcher sweep interval, in seconds",
		},
		cli.IntFlag{
			Name:  "slotttl",
			Value: 30,
			Usage: "slot batch dispatcher eviction horizon, in seconds",
		},
		cli.BoolFlag{
			Name:  "metrics",
			Usage: "enable the prometheus /metrics endpoint",
		},
		cli.StringFlag{
			Name:  "metricsaddr",
			Value: ":9090",
			Usage: "address for the prometheus /metrics endpoint",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress per-transaction log lines",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	myApp.Run(os.Args)
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.BindAddress = c.String("listen")
	cfg.FecWorkers = c.Int("fecworkers")
	cfg.BatchWorkers = c.Int("batchworkers")
	cfg.IngressQueue = c.Int("ingressqueue")
	cfg.FecQueue = c.Int("fecqueue")
	cfg.BatchQueue = c.Int("batchqueue")
	cfg.FecGCInterval = c.Int("fecgcinterval")
	cfg.FecTTL = c.Int("fecttl")
	cfg.SlotGCInterval = c.Int("slotgcinterval")
	cfg.SlotTTL = c.Int("slotttl")
	cfg.Metrics = c.Bool("metrics")
	cfg.MetricsAddr = c.String("metricsaddr")
	cfg.Log = c.String("log")
	cfg.Quiet = c.Bool("quiet")

	if c.String("c") != "" {
		if err := config.ParseJSONFile(&cfg, c.String("c")); err != nil {
			log.Printf("%+v\n", err)
			os.Exit(-1)
		}
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Printf("%+v\n", err)
			os.Exit(-1)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("listening on:", cfg.BindAddress)
	log.Println("fec workers:", cfg.ResolveFecWorkers())
	log.Println("batch workers:", cfg.ResolveBatchWorkers())
	log.Println("ingress queue:", cfg.IngressQueue)
	log.Println("fec queue:", cfg.FecQueue)
	log.Println("batch queue:", cfg.BatchQueue)
	log.Println("fec gc interval:", cfg.FecGCInterval, "fec ttl:", cfg.FecTTL)
	log.Println("slot gc interval:", cfg.SlotGCInterval, "slot ttl:", cfg.SlotTTL)
	log.Println("metrics:", cfg.Metrics, cfg.MetricsAddr)
	log.Println("quiet:", cfg.Quiet)

	var handler txevent.Handler = &txhandler.Logging{Quiet: cfg.Quiet}
	if cfg.Metrics {
		handler = &txhandler.MetricsOnly{}
	}

	p, err := pipeline.New(cfg, handler)
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	installSignalHandler(cancel)

	return p.Run(ctx)
}
