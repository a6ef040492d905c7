// The slashguard command manages a slashing protection database from the
// command line: importing and exporting EIP-3076 interchange documents,
// pruning old history and taking backups.
package main

import (
	"context"
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/stakeguard/slashguard/db/kv"
	"github.com/stakeguard/slashguard/interchange"
	"github.com/urfave/cli/v2"
)

var log = logrus.WithField("prefix", "slashguard")

var (
	datadirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "directory holding the slashing protection database",
		Required: true,
	}
	fileFlag = &cli.StringFlag{
		Name:     "file",
		Usage:    "path of the EIP-3076 interchange JSON file",
		Required: true,
	}
	retainedEpochsFlag = &cli.Uint64Flag{
		Name:  "retained-epochs",
		Usage: "number of target epochs of attestation history to retain",
		Value: kv.DefaultRetainedEpochs,
	}
	retainedSlotsFlag = &cli.Uint64Flag{
		Name:  "retained-slots",
		Usage: "number of slots of proposal history to retain",
		Value: kv.DefaultRetainedSlots,
	}
	outputDirFlag = &cli.StringFlag{
		Name:  "output-dir",
		Usage: "directory to write the backup into, defaults to the datadir backups directory",
	}
)

func main() {
	app := &cli.App{
		Name:  "slashguard",
		Usage: "manage EIP-3076 compliant slashing protection data",
		Commands: []*cli.Command{
			{
				Name:        "import",
				Description: "import an EIP-3076 compliant slashing protection JSON file into the database",
				Flags:       []cli.Flag{datadirFlag, fileFlag},
				Action:      importAction,
			},
			{
				Name:        "export",
				Description: "export the database as an EIP-3076 compliant slashing protection JSON file",
				Flags:       []cli.Flag{datadirFlag, fileFlag},
				Action:      exportAction,
			},
			{
				Name:        "prune",
				Description: "prune old history and raise the low watermarks accordingly",
				Flags:       []cli.Flag{datadirFlag, retainedEpochsFlag, retainedSlotsFlag},
				Action:      pruneAction,
			},
			{
				Name:        "backup",
				Description: "write a point-in-time copy of the slashing protection database",
				Flags:       []cli.Flag{datadirFlag, outputDirFlag},
				Action:      backupAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func importAction(cliCtx *cli.Context) error {
	store, err := kv.NewKVStore(cliCtx.String(datadirFlag.Name))
	if err != nil {
		return err
	}
	defer closeStore(store)
	f, err := os.Open(cliCtx.String(fileFlag.Name))
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Error("Failed to close interchange file")
		}
	}()
	return interchange.ImportInterchangeJSON(context.Background(), store, f)
}

func exportAction(cliCtx *cli.Context) error {
	store, err := kv.NewKVStore(cliCtx.String(datadirFlag.Name))
	if err != nil {
		return err
	}
	defer closeStore(store)
	encoded, err := interchange.ExportInterchangeJSON(context.Background(), store)
	if err != nil {
		return err
	}
	outputPath := cliCtx.String(fileFlag.Name)
	if err := ioutil.WriteFile(outputPath, encoded, 0600); err != nil {
		return err
	}
	log.WithField("file", outputPath).Info("Exported slashing protection history")
	return nil
}

func pruneAction(cliCtx *cli.Context) error {
	store, err := kv.NewKVStore(cliCtx.String(datadirFlag.Name))
	if err != nil {
		return err
	}
	defer closeStore(store)
	if err := store.PruneHistory(
		context.Background(),
		cliCtx.Uint64(retainedEpochsFlag.Name),
		cliCtx.Uint64(retainedSlotsFlag.Name),
	); err != nil {
		return err
	}
	log.Info("Pruned slashing protection history")
	return nil
}

func backupAction(cliCtx *cli.Context) error {
	store, err := kv.NewKVStore(cliCtx.String(datadirFlag.Name))
	if err != nil {
		return err
	}
	defer closeStore(store)
	return store.Backup(context.Background(), cliCtx.String(outputDirFlag.Name))
}

func closeStore(store *kv.Store) {
	if err := store.Close(); err != nil {
		log.WithError(err).Error("Failed to close database")
	}
}
