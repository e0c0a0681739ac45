package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ranging-core/rangingd/internal/ranging"
	"github.com/ranging-core/rangingd/internal/simadapter"
)

var errUnknownTech = errors.New("unknown technology, expected uwb, cs, rtt, or rssi")

func demoCmd() *cobra.Command {
	var (
		techNames []string
		peerCount int
		duration  time.Duration
		secure    bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Start an in-process ranging session against simulated peers and print its events",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDemo(techNames, peerCount, duration, secure)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&techNames, "tech", []string{"uwb"}, "technologies to start: uwb, cs, rtt, rssi")
	flags.IntVar(&peerCount, "peers", 1, "number of simulated peers per technology")
	flags.DurationVar(&duration, "duration", 5*time.Second, "how long to let the session run before stopping it")
	flags.BoolVar(&secure, "secure", false, "request a secure (provisioned) UWB configuration")

	return cmd
}

func runDemo(techNames []string, peerCount int, duration time.Duration, secure bool) error {
	techs := make([]ranging.TechnologyTag, 0, len(techNames))
	for _, name := range techNames {
		tech, err := parseTech(name)
		if err != nil {
			return err
		}
		techs = append(techs, tech)
	}

	configs := make([]ranging.TechnologyConfig, 0, len(techs))
	for _, tech := range techs {
		peers := make([]ranging.PeerId, peerCount)
		for i := range peers {
			peers[i] = newPeerID()
		}
		configs = append(configs, ranging.TechnologyConfig{
			Multicast: peerCount > 1,
			Peers:     peers,
			Config:    perTechConfig(tech, secure),
		})
	}

	registry := ranging.NewSessionRegistry(simadapter.Factory())
	defer registry.Close()

	go registry.RunDispatch(context.Background())

	pref := ranging.SessionPreference{
		Role: ranging.RoleInitiator,
		Config: ranging.SessionConfig{
			SensorFusionEnabled: len(techs) > 1,
		},
		Raw: &ranging.RawBundle{Configs: configs},
	}

	clientID := uuid.NewString()
	sess, err := registry.CreateSession(context.Background(), clientID, pref, nil)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	sess.Start()

	deadline := time.After(duration)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return nil
			}
			printEvent(ev)
		case <-deadline:
			sess.Stop()
			// Drain remaining events (including the final SessionStopped)
			// until the channel closes.
			for ev := range sess.Events() {
				printEvent(ev)
			}
			return nil
		}
	}
}

func printEvent(ev ranging.ClientEvent) {
	switch ev.Kind {
	case ranging.EventSessionStarted:
		fmt.Println("session started")
	case ranging.EventTechnologyStarted:
		fmt.Printf("technology started: %s peers=%v\n", ev.Tech, ev.Peers)
	case ranging.EventData:
		fmt.Printf("measurement: peer=%s distance_m=%.3f\n", ev.Peer, ev.Measurement.DistanceM)
	case ranging.EventTechnologyStopped:
		fmt.Printf("technology stopped: %s reason=%s\n", ev.Tech, ev.Reason)
	case ranging.EventSessionStopped:
		fmt.Printf("session stopped: reason=%s\n", ev.Reason)
	}
}

func parseTech(name string) (ranging.TechnologyTag, error) {
	switch strings.ToLower(name) {
	case "uwb":
		return ranging.TechUWB, nil
	case "cs":
		return ranging.TechCS, nil
	case "rtt":
		return ranging.TechRTT, nil
	case "rssi":
		return ranging.TechRSSI, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnknownTech, name)
	}
}

func perTechConfig(tech ranging.TechnologyTag, secure bool) ranging.PerTechnologyConfig {
	switch tech {
	case ranging.TechUWB:
		sec := ranging.SecurityBasic
		if secure {
			sec = ranging.SecuritySecure
		}
		return ranging.PerTechnologyConfig{
			Tech: tech,
			Uwb: &ranging.UwbParams{
				ConfigID:       ranging.ConfigUnicastDsTwr,
				Channel:        9,
				PreambleIndex:  10,
				SlotDurationMs: 2,
				UpdateRate:     ranging.RateNormal,
				IntervalMs:     200,
				Security:       sec,
			},
		}
	case ranging.TechCS:
		return ranging.PerTechnologyConfig{
			Tech: tech,
			Cs:   &ranging.CsParams{ServiceName: "rangingctl-demo", IntervalMs: 200},
		}
	case ranging.TechRTT:
		return ranging.PerTechnologyConfig{
			Tech: tech,
			Rtt:  &ranging.RttParams{ServiceName: "rangingctl-demo", IntervalMs: 200},
		}
	default:
		return ranging.PerTechnologyConfig{
			Tech: tech,
			Rssi: &ranging.RssiParams{IntervalMs: 200},
		}
	}
}

func newPeerID() ranging.PeerId {
	id := uuid.New()
	var p ranging.PeerId
	copy(p[:], id[:])
	return p
}
