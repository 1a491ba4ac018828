package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/kv/sqlite"
	"github.com/viant/ocap/service/store"
	"go.uber.org/zap"
)

// queryCmd runs SQL against a kernel store
var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Run a SQL query against a kernel store",
	Long: `Runs SQL against the kv table of a sqlite kernel store and prints one
JSON object per row.

Example:
  ocapd query --db kernel.db "SELECT key, value FROM kv WHERE key LIKE 'v0.c.%'"`,
	Args: cobra.ExactArgs(1),
	RunE: queryStore,
}

// statusCmd summarises a kernel store
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vats and queues persisted in a kernel store",
	Args:  cobra.NoArgs,
	RunE:  showStatus,
}

// storeStatus is the persisted state printed by status.
type storeStatus struct {
	Vats           []vat.Record       `json:"vats"`
	TerminatedVats []ref.VatID        `json:"terminatedVats"`
	RunQueueLength int                `json:"runQueueLength"`
	PinnedObjects  []ref.KRef         `json:"pinnedObjects"`
	ClusterConfig  *vat.ClusterConfig `json:"clusterConfig,omitempty"`
}

func openStore() (*sqlite.Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("--db is required")
	}
	return sqlite.New(dbPath)
}

func queryStore(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Debug("querying store", zap.String("db", dbPath), zap.String("sql", args[0]))
	rows, err := db.Query(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printRows(cmd.OutOrStdout(), rows)
}

func printRows(w io.Writer, rows []map[string]string) error {
	encoder := json.NewEncoder(w)
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	kernelStore := store.New(db)
	status := &storeStatus{
		Vats:           []vat.Record{},
		TerminatedVats: kernelStore.GetTerminatedVats(),
		RunQueueLength: kernelStore.RunQueueLength(),
		PinnedObjects:  kernelStore.GetPinnedObjects(),
	}
	for record := range kernelStore.GetAllVatRecords() {
		status.Vats = append(status.Vats, record)
	}
	if config, ok := kernelStore.GetClusterConfig(); ok {
		status.ClusterConfig = config
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(status)
}
