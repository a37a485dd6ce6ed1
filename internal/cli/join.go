package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/huddle-rtc/huddle/internal/adapters/rtc"
	signalws "github.com/huddle-rtc/huddle/internal/adapters/signal"
	"github.com/huddle-rtc/huddle/internal/app"
	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
	"github.com/huddle-rtc/huddle/internal/media"
)

var (
	flagHub     string
	flagName    string
	flagNoVideo bool
	flagNoAudio bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a meeting room",
	Long: `Join a room on the signaling hub and connect to every other
participant. Typed lines are sent as chat; slash commands control the
session:

  /hand      toggle raised hand
  /mute      toggle microphone
  /video     toggle camera
  /share     start or stop screen sharing
  /stats     print per-peer connection stats
  /who       list participants
  /quit      leave the meeting`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(args[0])
	},
}

func runJoin(roomArg string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagHub != "" {
		cfg.HubURL = flagHub
	}

	room, err := domain.ParseRoomID(roomArg)
	if err != nil {
		return err
	}
	self, err := domain.NewParticipant(flagName)
	if err != nil {
		return err
	}

	selector, err := media.NewCodecSelector(cfg.Media)
	if err != nil {
		return err
	}
	factory, err := rtc.NewFactory(cfg, media.PopulateFor(selector))
	if err != nil {
		return err
	}

	var source core.MediaSource
	if !flagNoVideo || !flagNoAudio {
		source, err = media.Acquire(cfg.Media, selector, !flagNoVideo, !flagNoAudio)
		if err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channel := newChannel(cfg, room, self)
	if err := channel.Connect(ctx); err != nil {
		if source != nil {
			_ = source.Close()
		}
		return err
	}

	mgr := app.NewManager(cfg, self, room, channel, factory, source)
	mgr.UseScreenCapture(func() (core.MediaSource, error) {
		return media.AcquireScreen(selector)
	})
	registerPrinters(mgr)

	if err := mgr.JoinMeeting(ctx); err != nil {
		_ = channel.Close()
		if source != nil {
			_ = source.Close()
		}
		return err
	}
	fmt.Printf("joined %s as %s\n", room, self.Name)

	runPrompt(ctx, mgr)
	return mgr.LeaveMeeting()
}

func newChannel(cfg *config.Config, room domain.RoomID, self domain.Participant) *signalws.Client {
	url := strings.TrimRight(cfg.HubURL, "/") + "/api/ws/rooms"
	return signalws.NewClient(url, room, self)
}

func registerPrinters(mgr *app.Manager) {
	mgr.OnRemoteStream(func(peer domain.ParticipantID, m core.RemoteMedia, name string) {
		fmt.Printf("* %s is sending %s\n", name, m.Kind())
	})
	mgr.OnPeerLeft(func(peer domain.ParticipantID) {
		fmt.Printf("* peer %s left\n", peer)
	})
	mgr.OnHandRaised(func(peer domain.ParticipantID, name string, raised bool) {
		if raised {
			fmt.Printf("* %s raised their hand\n", name)
		} else {
			fmt.Printf("* %s lowered their hand\n", name)
		}
	})
	mgr.OnChatMessage(func(peer domain.ParticipantID, name, body string, sentAt time.Time) {
		fmt.Printf("[%s] %s: %s\n", sentAt.Format("15:04:05"), name, body)
	})
}

// runPrompt reads stdin until /quit, EOF, or the context is canceled by a
// signal.
func runPrompt(ctx context.Context, mgr *app.Manager) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var handUp, muted, camOff, sharing bool
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			switch line {
			case "/quit":
				return
			case "/hand":
				handUp = !handUp
				mgr.RaiseHand(handUp)
			case "/mute":
				muted = !muted
				mgr.ToggleLocalAudio(!muted)
				fmt.Printf("* microphone %s\n", onOff(!muted))
			case "/video":
				camOff = !camOff
				mgr.ToggleLocalVideo(!camOff)
				fmt.Printf("* camera %s\n", onOff(!camOff))
			case "/share":
				if sharing {
					mgr.StopScreenShare()
					sharing = false
					fmt.Println("* screen share stopped")
				} else if _, err := mgr.StartScreenShare(); err != nil {
					fmt.Printf("* screen share failed: %v\n", err)
				} else {
					sharing = true
					fmt.Println("* screen share started")
				}
			case "/stats":
				printStats(mgr)
			case "/who":
				for _, p := range mgr.Participants() {
					fmt.Printf("  %s (%s)\n", p.Name, p.ID)
				}
			default:
				if err := mgr.SendChat(line); err != nil {
					fmt.Printf("* chat failed: %v\n", err)
				}
			}
		}
	}
}

func printStats(mgr *app.Manager) {
	stats := mgr.ConnectionStats()
	if len(stats) == 0 {
		fmt.Println("  no peers")
		return
	}
	for id, s := range stats {
		fmt.Printf("  %s: %s sent=%dB recv=%dB pair=%s\n",
			id, s.State, s.BytesSent, s.BytesReceived, s.CandidatePair)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagHub, "hub", "", "signaling hub base URL (ws://host:port)")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "join without camera")
	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "join without microphone")
	_ = joinCmd.MarkFlagRequired("name")
}
