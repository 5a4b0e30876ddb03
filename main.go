package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/calypso/po"
	"github.com/gregLibert/calypso/pkg/calypso/session"
	"github.com/gregLibert/calypso/pkg/calypso/virtual"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/pcsc"
)

const (
	SimulateFlag   = "simulate"
	ConfigFlag     = "config"
	VerboseFlag    = "verbose"
	CardReaderFlag = "card-reader"
	SamReaderFlag  = "sam-reader"
	AIDFlag        = "aid"
	LevelFlag      = "level"
	SFIFlag        = "sfi"
	RecordFlag     = "record"
	DataFlag       = "data"
)

func main() {
	sessionFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  LevelFlag,
			Value: "debit",
			Usage: "Session access level (perso, load, debit)",
		},
		&cli.IntFlag{
			Name:  SFIFlag,
			Value: 8,
			Usage: "Short file identifier of the target file",
		},
		&cli.IntFlag{
			Name:  RecordFlag,
			Value: 1,
			Usage: "Record number",
		},
	}

	app := &cli.App{
		Name:  "calypso",
		Usage: "Run Calypso secure sessions against a card and a SAM",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  SimulateFlag,
				Usage: "Use a simulated card and SAM instead of PC/SC readers",
			},
			&cli.StringFlag{
				Name:  ConfigFlag,
				Usage: "YAML session settings file",
			},
			&cli.BoolFlag{
				Name:    VerboseFlag,
				Aliases: []string{"v"},
				Usage:   "Log APDUs and session transitions",
			},
			&cli.StringFlag{
				Name:  CardReaderFlag,
				Usage: "PC/SC reader holding the card (first reader when empty)",
			},
			&cli.StringFlag{
				Name:  SamReaderFlag,
				Usage: "PC/SC reader holding the SAM",
			},
			&cli.StringFlag{
				Name:  AIDFlag,
				Value: string(virtual.DefaultDFName),
				Usage: "Application to select, as hex or as a name",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "readers",
				Usage:  "List PC/SC readers",
				Action: listReaders,
			},
			{
				Name:   "info",
				Usage:  "Select the application and describe the card",
				Action: describeCard,
			},
			{
				Name:   "read",
				Usage:  "Read a record inside a secure session",
				Flags:  sessionFlags,
				Action: readRecord,
			},
			{
				Name:  "update",
				Usage: "Update a record inside a secure session",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     DataFlag,
						Required: true,
						Usage:    "Record content, hex encoded",
					},
				}, sessionFlags...),
				Action: updateRecord,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// =========================================================================
// Commands
// =========================================================================

func listReaders(cCtx *cli.Context) error {
	readers, err := pcsc.ListReaders()
	if err != nil {
		return err
	}
	for _, r := range readers {
		fmt.Println(r)
	}
	return nil
}

func describeCard(cCtx *cli.Context) error {
	env, err := setup(cCtx, false)
	if err != nil {
		return err
	}
	defer env.close()

	fmt.Println(env.info.Describe())
	return nil
}

func readRecord(cCtx *cli.Context) error {
	env, err := setup(cCtx, true)
	if err != nil {
		return err
	}
	defer env.close()

	return env.inSession(cCtx, func(s *session.SecureSession, sfi, record byte) error {
		read, err := po.NewReadRecords(env.info.Revision, sfi, record, po.ReadOneRecord)
		if err != nil {
			return err
		}
		resp, err := session.Execute(s, read)
		if err != nil {
			return err
		}
		fmt.Println(read.Describe(resp.Raw))
		return nil
	})
}

func updateRecord(cCtx *cli.Context) error {
	data, err := hex.DecodeString(cCtx.String(DataFlag))
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", DataFlag, err)
	}

	env, err := setup(cCtx, true)
	if err != nil {
		return err
	}
	defer env.close()

	return env.inSession(cCtx, func(s *session.SecureSession, sfi, record byte) error {
		update, err := po.NewUpdateRecord(env.info.Revision, sfi, record, data)
		if err != nil {
			return err
		}
		if _, err := session.Execute(s, update); err != nil {
			return err
		}
		fmt.Printf(">> Record %d of SFI %02X updated (%d/%d buffer bytes)\n",
			record, sfi, s.BufferUsed(), s.BufferLimit())
		return nil
	})
}

// =========================================================================
// Helper Functions
// =========================================================================

type environment struct {
	logger   *zap.Logger
	settings calypso.Settings
	card     *iso7816.Client
	sam      *iso7816.Client
	info     *po.CardInfo
	closers  []func() error
}

// setup builds the logger, loads the settings, connects the devices and
// selects the application.
func setup(cCtx *cli.Context, withSAM bool) (*environment, error) {
	env := &environment{logger: zap.NewNop(), settings: calypso.DefaultSettings()}
	if cCtx.Bool(VerboseFlag) {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
		env.logger = logger
		env.closers = append(env.closers, func() error {
			_ = logger.Sync()
			return nil
		})
	}

	if path := cCtx.String(ConfigFlag); path != "" {
		settings, err := calypso.LoadSettingsFile(path)
		if err != nil {
			return nil, err
		}
		env.settings = settings
	}

	var cardTx, samTx iso7816.Transmitter
	if cCtx.Bool(SimulateFlag) {
		card, sam, err := simulatedDevices(env.settings)
		if err != nil {
			return nil, err
		}
		cardTx, samTx = card, sam
	} else {
		card, err := pcsc.Connect(cCtx.String(CardReaderFlag), pcsc.WithLogger(env.logger.Named("card")))
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, card.Close)
		cardTx = card

		if withSAM {
			if cCtx.String(SamReaderFlag) == "" {
				env.close()
				return nil, fmt.Errorf("--%s is required without --%s", SamReaderFlag, SimulateFlag)
			}
			sam, err := pcsc.Connect(cCtx.String(SamReaderFlag), pcsc.WithLogger(env.logger.Named("sam")))
			if err != nil {
				env.close()
				return nil, err
			}
			env.closers = append(env.closers, sam.Close)
			samTx = sam
		}
	}

	env.card = iso7816.NewClient(cardTx, iso7816.WithLogger(env.logger.Named("card")))
	if samTx != nil {
		env.sam = iso7816.NewClient(samTx, iso7816.WithLogger(env.logger.Named("sam")))
	}

	selectApp, err := po.NewSelectApplication(parseAID(cCtx.String(AIDFlag)))
	if err != nil {
		env.close()
		return nil, err
	}
	resp, err := calypso.Exchange(env.card, selectApp)
	if err != nil {
		env.close()
		return nil, fmt.Errorf("selecting application: %w", err)
	}
	env.info = resp.Value
	return env, nil
}

func (e *environment) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			log.Printf("Warning: Failed to release device: %v", err)
		}
	}
	e.closers = nil
}

// inSession opens a secure session at the requested level, runs fn and closes
// the session. The session is cancelled when fn fails.
func (e *environment) inSession(cCtx *cli.Context, fn func(s *session.SecureSession, sfi, record byte) error) error {
	level, err := calypso.ParseAccessLevel(cCtx.String(LevelFlag))
	if err != nil {
		return err
	}
	sfi, err := flagByte(SFIFlag, cCtx.Int(SFIFlag), 0, po.MaxSFI)
	if err != nil {
		return err
	}
	record, err := flagByte(RecordFlag, cCtx.Int(RecordFlag), 1, 255)
	if err != nil {
		return err
	}

	s, err := session.New(e.card, e.sam, e.info,
		session.WithSettings(e.settings),
		session.WithLogger(e.logger.Named("session")),
	)
	if err != nil {
		return err
	}

	opening, err := s.Open(level, sfi, 0)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	fmt.Printf(">> Session open at level %s (transaction counter %d)\n", level, opening.TransactionCounter)

	if err := fn(s, sfi, record); err != nil {
		if cancelErr := s.Cancel(); cancelErr != nil && !errors.Is(cancelErr, calypso.ErrIllegalState) {
			return errors.Join(err, cancelErr)
		}
		return err
	}

	if _, err := s.Close(); err != nil {
		return fmt.Errorf("closing session (%s): %w", s.State(), err)
	}
	if err := s.Ratify(); err != nil {
		return fmt.Errorf("ratifying session: %w", err)
	}
	fmt.Printf(">> Session closed: %d command(s) certified\n", len(s.Records()))
	return nil
}

// flagByte checks that an integer flag fits [lo, hi] before narrowing it.
func flagByte(name string, v, lo, hi int) (byte, error) {
	if v < lo || v > hi {
		return 0, fmt.Errorf("--%s %d out of range [%d, %d]", name, v, lo, hi)
	}
	return byte(v), nil
}

func parseAID(s string) []byte {
	if b, err := hex.DecodeString(s); err == nil && len(b) > 0 {
		return b
	}
	return []byte(s)
}

// demoKeys are the master keys shared by the simulated card and SAM.
var demoKeys = map[calypso.AccessLevel][]byte{
	calypso.Perso: []byte("perso-master-key"),
	calypso.Load:  []byte("load--master-key"),
	calypso.Debit: []byte("debit-master-key"),
}

// simulatedDevices builds a card and a SAM whose keys match the settings.
func simulatedDevices(settings calypso.Settings) (*virtual.Card, *virtual.SAM, error) {
	cardKeys := make(map[calypso.AccessLevel]virtual.Key, len(demoKeys))
	samKeys := make([]virtual.Key, 0, len(demoKeys))
	for _, level := range []calypso.AccessLevel{calypso.Perso, calypso.Load, calypso.Debit} {
		key := virtual.Key{Reference: settings.Key(level), Master: demoKeys[level]}
		cardKeys[level] = key
		samKeys = append(samKeys, key)
	}

	card, err := virtual.NewCard([]byte{0, 0, 0, 0, 0x19, 0x70, 0x01, 0x01}, cardKeys,
		virtual.WithFile(0x07, []byte("ENVIRONMENT AND HOLDER DATA..")),
		virtual.WithFile(0x08, []byte("EVENT LOG #1................."), []byte("EVENT LOG #2.................")),
		virtual.WithFile(0x19, []byte{0x00, 0x00, 0x0A, 0x00, 0x00, 0x14}),
	)
	if err != nil {
		return nil, nil, err
	}
	sam, err := virtual.NewSAM(samKeys, virtual.WithSAMRevision(settings.SamRevision))
	if err != nil {
		return nil, nil, err
	}
	return card, sam, nil
}
