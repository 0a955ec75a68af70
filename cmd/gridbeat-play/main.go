package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/arikoski/gridbeat"
	"github.com/arikoski/gridbeat/debug"
	"github.com/arikoski/gridbeat/engine"
	"github.com/arikoski/gridbeat/midiout"
	"github.com/arikoski/gridbeat/version"
)

func main() {
	bpm := flag.Float64("bpm", 120, "Tempo of the internal metronome, in beats per minute.")
	port := flag.String("port", "", "Substring of the MIDI output port name to play through. By default, the first available output is used.")
	channel := flag.Int("channel", 0, "MIDI channel to send on (0-15).")
	list := flag.Bool("l", false, "List available MIDI output ports and exit.")
	dry := flag.Bool("n", false, "Do not open a MIDI output; only print the events.")
	loops := flag.Int("loops", 0, "Stop after this many full loops. 0 plays until interrupted.")
	debugFlag := flag.Bool("d", false, "Write a debug log to ~/.config/gridbeat/debug.log.")
	versionFlag := flag.Bool("v", false, "Print version.")
	help := flag.Bool("h", false, "Show help.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if *list {
		os.Exit(listPorts())
	}
	if flag.NArg() != 1 || *help {
		flag.Usage()
		os.Exit(0)
	}
	if *debugFlag {
		if err := debug.Enable(); err != nil {
			fmt.Fprintf(os.Stderr, "could not enable debug log: %v\n", err)
		}
		defer debug.Disable()
	}
	if err := run(flag.Arg(0), *bpm, *port, uint8(*channel), *dry, *loops); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(filename string, bpm float64, port string, channel uint8, dry bool, loops int) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("could not read file %v: %v", filename, err)
	}
	preset, err := gridbeat.ReadPreset(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("could not parse preset %v: %v", filename, err)
	}

	var out *midiout.Output
	if !dry {
		send, name, err := midiout.OpenPort(port)
		if err != nil {
			return err
		}
		fmt.Printf("playing %q on %v\n", preset.Name, name)
		out = midiout.New(send, channel)
		defer out.Close()
	}

	broker := engine.NewBroker()
	e := engine.NewEngine(broker)
	rec := engine.NewRecomputer(broker)
	go e.Run()
	go rec.Run()
	defer func() {
		e.Close()
		rec.Close()
		<-broker.FinishedEngine
		<-broker.FinishedRecompute
	}()

	engine.TrySend(broker.ToEngine, engine.Msg(engine.ImportPresetMsg{Preset: preset}))
	engine.TrySend(broker.ToEngine, engine.Msg(engine.SetSettingsMsg{BPM: bpm, Speed: preset.Speed, Length: preset.Length}))
	engine.TrySend(broker.ToEngine, engine.Msg(engine.StartPlayMsg{}))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// the internal metronome: one tick per beat at the given tempo
	ticker := time.NewTicker(time.Duration(float64(time.Minute) / bpm))
	defer ticker.Stop()

	looped := 0
	for {
		select {
		case <-interrupt:
			return nil
		case now := <-ticker.C:
			engine.TrySend(broker.ToEngine, engine.Msg(engine.TickMsg{Time: now, BPM: bpm}))
		case ev := <-broker.ToHost:
			if out != nil {
				if err := out.HandleEvent(ev); err != nil {
					fmt.Fprintf(os.Stderr, "midi send failed: %v\n", err)
				}
			}
			switch v := ev.(type) {
			case engine.BeatEvent:
				if v.Beat == 0 {
					looped++
					if loops > 0 && looped > loops {
						return nil
					}
				}
			case engine.PlayStepEvent:
				for _, s := range v.Steps {
					fmt.Printf("beat %2d  %-4s vel %.2f gate %.2f\n", v.Beat, gridbeat.NoteString(s.Note), s.Velocity, s.Gate)
				}
			case engine.AlertEvent:
				fmt.Fprintf(os.Stderr, "%v: %v\n", v.Name, v.Message)
				if v.Priority == engine.Error {
					return fmt.Errorf("%v", v.Message)
				}
			case engine.StateEvent:
				if v.State == engine.StateStopped {
					return nil
				}
			}
		}
	}
}

func listPorts() int {
	names := midiout.Ports()
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "no MIDI outputs available")
		return 1
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return 0
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Gridbeat command line utility for playing .yml preset files.\nUsage: %s [flags] [path]\n", os.Args[0])
	flag.PrintDefaults()
}
