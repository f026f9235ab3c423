package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"showctl/internal/artnet"
	"showctl/internal/clientmqtt"
	"showctl/internal/config"
	"showctl/internal/discovery"
	"showctl/internal/effects"
	"showctl/internal/logger"
	"showctl/internal/midi"
	"showctl/internal/midiin"
	"showctl/internal/notify"
	"showctl/internal/registry"
	"showctl/internal/show"
	"showctl/internal/transport"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}
	log.Module("logger").Debug("newLogger created ok")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	hub := notify.NewHub(ctx, log)
	go logEvents(log, hub.Subscribe(32))

	reg := registry.New(log, hub, cfg.Devices.Slots, cfg.Devices.MIDIChannels)
	defer reg.Close()
	if err := reg.LoadFile(cfg.Devices.MappingFile); err != nil {
		log.Module("registry").Warnf("starting with placeholders: %v", err)
	}

	tr := transport.New(log, reg, transport.Options{Port: cfg.Network.Port, PeerPort: cfg.Network.Port})
	disc := discovery.New(log, tr, reg, hub, hostname(cfg.Network.Hostname), cfg.Network.DiscoverInterval)
	tr.SetHandler(disc.Handler(ctx))
	tr.OnRebind(disc.Reinvite)
	if err := tr.Start(ctx); err != nil {
		log.Module("transport").Errorf("failed to bind: %v", err)
		os.Exit(1)
	}
	log.Module("transport").Debug("transport started ok")

	go disc.Run(ctx)
	if cfg.Network.AnnouncePort > 0 {
		go func() {
			if err := disc.ListenAnnouncements(ctx, nil, cfg.Network.AnnouncePort); err != nil {
				log.Module("discovery").Errorf("announce listener: %v", err)
			}
		}()
	}
	if cfg.Network.InterfacePoll > 0 {
		go transport.NewWatcher(log, tr, cfg.Network.InterfacePoll).Run(ctx)
	}
	if cfg.Network.SyncGroup != "" {
		beacon, err := transport.NewBeacon(log, cfg.Network.SyncGroup, cfg.Network.SyncInterval)
		if err != nil {
			log.Module("sync").Errorf("sync beacon disabled: %v", err)
		} else {
			go func() {
				if err := beacon.Run(ctx); err != nil {
					log.Module("sync").Errorf("sync beacon: %v", err)
				}
			}()
		}
	}

	var (
		mirror effects.Mirror
		lights *artnet.ArtNet
	)
	if cfg.ArtNet.Enabled {
		lights, err = artnet.NewController(log, hub, cfg.ArtNet)
		if err != nil {
			log.Module("art-net").Errorf("error while creating a new controller art-net. %v", err)
		} else if err = lights.Start(ctx); err != nil {
			log.Module("art-net").Errorf("failed to start art-net service: %v", err)
			lights = nil
		} else {
			mirror = lights
		}
	}

	fx := effects.New(log, tr, reg, mirror, cfg.Effects.UpdateHz)
	defer fx.Close()

	mode, err := midi.ParseTriggerMode(cfg.MIDI.Mode)
	if err != nil {
		log.Module("midi").Warnf("%v, using %s", err, mode)
	}
	router := midi.New(log, tr, reg, fx, mode, cfg.MIDI.QueueSize)
	go router.Run(ctx)

	if cfg.MIDI.Enabled {
		w, err := midiin.Open(log, router, midiin.Options{
			Preferred: cfg.MIDI.Preferred,
			Excluded:  cfg.MIDI.Excluded,
		})
		if err != nil {
			log.Module("midiin").Errorf("MIDI input disabled: %v", err)
		} else {
			go w.Run(ctx)
		}
	}

	console := show.New(log, reg, tr, fx, disc, router, hub, show.Options{
		MappingFile: cfg.Devices.MappingFile,
		Envelope: effects.Envelope{
			Attack:  time.Duration(cfg.Effects.AttackMs) * time.Millisecond,
			Decay:   time.Duration(cfg.Effects.DecayMs) * time.Millisecond,
			Sustain: cfg.Effects.Sustain,
			Release: time.Duration(cfg.Effects.ReleaseMs) * time.Millisecond,
		},
	})
	if cfg.Cues.File != "" {
		sheet, err := show.LoadCueSheet(cfg.Cues.File)
		if err != nil {
			log.Module("console").Errorf("cue sheet not loaded: %v", err)
		} else {
			console.SetCues(sheet)
		}
	}

	var client *clientmqtt.ClientMQTT
	if cfg.MQTT.Enabled {
		client = clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT))
		log.Module("mqtt").Debug("NewClient created ok")
		if err = client.Start(ctx, hub.Subscribe(64), func(op string, payload []byte) {
			console.HandleRemote(ctx, op, payload)
		}); err != nil {
			log.Error("failed to start MQTT service:", err.Error())
		}
	}

	<-ctx.Done()

	if client != nil {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}
	// Flush effects before the socket goes away.
	fx.Close()
	tr.Stop()
	if lights != nil {
		lights.Stop()
	}

	log.Info("shutdown complete")
}

// ConvertConfigClientMQTT converts the config section to client options.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:    cfg.ClientID,
		Schema:      "tcp",
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		Qos:         cfg.Qos,
		TopicPrefix: cfg.TopicPrefix,
	}
}

func hostname(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil {
		return "showctl"
	}
	return strings.ToLower(strings.Split(host, ".")[0])
}

func logEvents(log *logger.Log, events <-chan notify.Event) {
	l := log.Module("events")
	for ev := range events {
		l.With(logger.Fields{"slot": ev.Slot, "on": ev.On}).Debugf("%s %s", ev.Kind, ev.Text)
	}
}
