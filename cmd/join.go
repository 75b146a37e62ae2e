package cmd

import (
	"github.com/spf13/cobra"

	"github.com/poriamsz55/distork-cli/internal/config"
	"github.com/poriamsz55/distork-cli/internal/media"
	"github.com/poriamsz55/distork-cli/internal/session"
	"github.com/poriamsz55/distork-cli/internal/signaling"
	"github.com/poriamsz55/distork-cli/internal/ui"
)

var (
	flagUsername string
	flagDomain   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a voice room",
	Long: `Join a voice room and start talking. Everyone already in the room is
called automatically; newcomers call you.

Examples:
  distork join lounge --username alice
  distork join lounge -u alice --domain chat.example.com
  distork join lounge -u alice --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func joinRoom(room string) error {
	cfg, err := config.Load(config.Options{
		Domain:     flagDomain,
		Username:   flagUsername,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return err
	}

	engine, err := media.NewEngine(cfg)
	if err != nil {
		return err
	}

	client := signaling.NewClient(cfg.WebSocketURL, room, cfg.Username)
	chat := ui.NewChatUI(room, cfg.Username)

	sess, err := session.New(cfg.Username, room, client, engine, func() (session.Capture, error) {
		capture, err := engine.OpenMicrophone()
		if err != nil {
			return nil, err
		}
		return capture, nil
	}, chat)
	if err != nil {
		return err
	}

	chat.SetHandlers(sess.SendChat, sess.End)
	client.SetStateFunc(sess.RelayState)

	stopSpinner := ui.RunConnectionSpinner("Joining room " + room + "...")
	if err := sess.Join(); err != nil {
		stopSpinner()
		return err
	}
	stopSpinner()
	defer sess.End()

	ui.RenderRoomInfo(room, cfg.Username)
	ui.RenderRoster(room, sess.Roster())

	return chat.Run()
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagUsername, "username", "u", "", "Display name in the room")
	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom server domain")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}
