// Command loopback runs two media tracks back to back through an in-memory
// transport and a router, exercising the full send path: direction gating,
// mid tagging, demultiplexing and the receive queue. Useful for smoke
// testing and for watching the track metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ionorg/ion-track/pkg/logger"
	"github.com/ionorg/ion-track/pkg/track"
)

// Config defines parameters for the loopback instance.
type Config struct {
	Track  track.Config       `mapstructure:"track"`
	Router track.RouterConfig `mapstructure:"router"`
	Log    struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

var (
	conf        = Config{}
	file        string
	metricsAddr string

	log = logger.New("info")
)

func showHelp() {
	fmt.Printf("Usage:%s {params}\n", os.Args[0])
	fmt.Println("      -c {config file}")
	fmt.Println("      -m {metrics addr}")
	fmt.Println("      -h (show help info)")
}

func load() bool {
	if file == "" {
		return true
	}
	if _, err := os.Stat(file); err != nil {
		return false
	}

	viper.SetConfigFile(file)
	viper.SetConfigType("toml")

	if err := viper.ReadInConfig(); err != nil {
		log.Error(err, "config file read failed", "file", file)
		return false
	}
	if err := viper.GetViper().Unmarshal(&conf); err != nil {
		log.Error(err, "config file loaded failed", "file", file)
		return false
	}
	log.Info("config file loaded", "file", file)
	return true
}

func parse() bool {
	flag.StringVar(&file, "c", "", "config file")
	flag.StringVar(&metricsAddr, "m", ":8100", "metrics addr")
	help := flag.Bool("h", false, "help info")
	flag.Parse()
	if !load() {
		return false
	}
	return !*help
}

// routerTransport loops every sent packet back into the router, standing in
// for the encrypted transport of a real connection.
type routerTransport struct {
	router *track.Router
}

func (t *routerTransport) SendMedia(msg *track.Message) bool {
	t.router.Route(msg.Data)
	return true
}

func startMetrics(addr string) error {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: m}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error(err, "cannot bind to metrics endpoint", "addr", addr)
		return err
	}
	log.Info("metrics listening", "addr", addr)
	return srv.Serve(lis)
}

func pump(ctx context.Context, sender *track.Track) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			seq++
			ts += 960
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    111,
					SequenceNumber: seq,
					Timestamp:      ts,
					SSRC:           0x1234,
				},
				Payload: make([]byte, 160),
			}
			buf, err := pkt.Marshal()
			if err != nil {
				return err
			}
			if _, err := sender.Outgoing(&track.Message{Data: buf, Kind: track.KindData}); err != nil {
				return err
			}

			if seq%50 == 0 {
				report, err := rtcp.Marshal([]rtcp.Packet{
					&rtcp.ReceiverReport{SSRC: 0x1234},
				})
				if err != nil {
					return err
				}
				if _, err := sender.Outgoing(&track.Message{Data: report}); err != nil {
					return err
				}
			}
		}
	}
}

func main() {
	if !parse() {
		showHelp()
		os.Exit(-1)
	}

	log = logger.New(conf.Log.Level)
	track.Logger = log.WithName("track")

	metrics := track.NewMetrics(prometheus.DefaultRegisterer)
	router := track.NewRouter(conf.Router)
	defer router.Stop()

	sender, err := track.NewTrack(conf.Track, track.MediaDescription{
		Mid:       "0",
		Type:      "audio",
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	}, metrics)
	if err != nil {
		log.Error(err, "creating sender track")
		os.Exit(1)
	}

	receiver, err := track.NewTrack(conf.Track, track.MediaDescription{
		Mid:       "0",
		Type:      "audio",
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}, metrics)
	if err != nil {
		log.Error(err, "creating receiver track")
		os.Exit(1)
	}

	received := 0
	receiver.OnMessage(func(msg *track.Message) {
		received++
		if received%100 == 0 {
			log.Info("looped packets", "count", received, "queued", receiver.AvailableAmount())
		}
	})
	router.AddTrack(receiver)

	if err = sender.Open(&routerTransport{router: router}); err != nil {
		log.Error(err, "opening sender track")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return startMetrics(metricsAddr) })
	g.Go(func() error { return pump(ctx, sender) })
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-sig:
			log.Info("shutting down", "signal", s.String())
			cancel()
			return nil
		}
	})

	log.Info("loopback running", "router", router.ID())
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error(err, "loopback stopped")
		os.Exit(1)
	}
}
