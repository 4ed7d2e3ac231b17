// Command gosampler is the ambient CLI entry point (spec.md section 6):
// it wires the Resource Manager, Disk Streaming, Voice/Engine Core, and
// Device Routing packages into a runnable process. Its cobra subcommands
// are serve and devices; the rest of the control-protocol operations are
// reachable only through internal/sampler.Sampler's methods.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gosampler/internal/device"
	"gosampler/internal/fpu"
	"gosampler/internal/sampler"
	"gosampler/internal/stats"
	"gosampler/internal/voice"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gosampler",
		Short: "A modular, streaming-capable software sampler engine",
	}

	root.PersistentFlags().Int("max-voices", 256, "global voice cap")
	root.PersistentFlags().Int("max-streams", 64, "global disk stream cap")
	root.PersistentFlags().Int("stream-capacity-frames", 65536, "per-stream ring buffer capacity, in frames")
	root.PersistentFlags().Bool("profile", false, "run against dummy audio/MIDI drivers instead of real hardware")
	root.PersistentFlags().Bool("statistics", true, "run the ~1Hz statistics reporter")
	root.PersistentFlags().String("config", "", "config file (default: $HOME/.gosampler.yaml)")

	viper.BindPFlags(root.PersistentFlags())
	cobra.OnInitialize(func() { initConfig(root) })

	root.AddCommand(newServeCmd())
	root.AddCommand(newDevicesCmd())
	return root
}

func initConfig(root *cobra.Command) {
	if cfg := viper.GetString("config"); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".gosampler")
	}
	viper.SetEnvPrefix("GOSAMPLER")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		log.Debug("no config file loaded", "err", err)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot the sampler and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	fpu.EnableFlushToZero()

	s := sampler.New(prometheus.DefaultRegisterer)

	if viper.GetBool("profile") {
		registerDummyDrivers(s)
	} else {
		s.Devices().RegisterMIDIDriver(device.NewGoMIDIDriver())
		s.Devices().RegisterMIDIDriver(device.NewPortMIDIDriver())
	}

	maxVoices := viper.GetInt("max-voices")
	maxStreams := viper.GetInt("max-streams")
	capacityFrames := viper.GetInt("stream-capacity-frames")
	eng := voice.NewEngine("default", maxVoices, maxStreams, capacityFrames)
	s.RegisterEngine("default", eng)
	go eng.Filler.Run(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if viper.GetBool("statistics") {
		reporter := stats.NewReporter(s, s.Metrics())
		go reporter.Run(ctx)
	}

	log.Info("gosampler serving", "max_voices", maxVoices, "max_streams", maxStreams)
	<-ctx.Done()
	log.Info("shutting down")

	resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Reset(resetCtx); err != nil {
		return fmt.Errorf("gosampler: reset: %w", err)
	}
	s.Close()
	return nil
}

func registerDummyDrivers(s *sampler.Sampler) {
	audio := &device.DummyAudioDriver{}
	audio.SetDevices([]device.AudioDevice{{
		UID: "dummy:out", Name: "Dummy Output", MaxChannels: 2,
		SampleRates: []int{44100, 48000}, IsOnline: true,
	}})
	midi := &device.DummyMIDIDriver{}
	midi.SetPorts([]device.MIDIDevice{{UID: "dummy:in", Name: "Dummy Input", IsInput: true, IsOnline: true}})
	s.Devices().RegisterAudioDriver(audio)
	s.Devices().RegisterMIDIDriver(midi)
}

func newDevicesCmd() *cobra.Command {
	var driver string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Enumerate MIDI ports from a registered driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := device.NewManager()
			mgr.RegisterMIDIDriver(device.NewGoMIDIDriver())
			mgr.RegisterMIDIDriver(device.NewPortMIDIDriver())
			ports, err := mgr.MIDIPorts(cmd.Context(), driver)
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Printf("%s\t%s\tinput=%v\tonline=%v\n", p.UID, p.Name, p.IsInput, p.IsOnline)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "gomidi", "MIDI driver name (gomidi, portmidi)")
	return cmd
}
