package cmd

import (
	"fmt"
	"os"

	"github.com/blondedman/face-recognition/internal/encodings"
	"github.com/blondedman/face-recognition/internal/utils"
	"github.com/spf13/cobra"
)

var storeEncodings string

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Push an encodings file into PostgreSQL",
	Long: `Loads a .json or .yaml encodings file and inserts every (name, encoding) pair
into the pgvector table, so recognize can read them back with --encodings postgres://...`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		db, err := encodings.LoadFile(storeEncodings)
		if err != nil {
			utils.Die("Failed to load encodings", err, nil)
		}

		if err := openStore(ctx); err != nil {
			utils.Die("Database Error", err, nil)
		}

		fmt.Fprintf(os.Stderr, "📦 Storing %d encodings...\n", db.Len())
		if err := DB.InsertEncodings(ctx, db.Names, db.Encodings); err != nil {
			utils.Die("Failed to store encodings", err, nil)
		}

		order, _ := db.Identities()
		fmt.Printf("✅ Stored %d encodings for %d identities\n", db.Len(), len(order))
	},
}

func init() {
	storeCmd.Flags().StringVarP(&storeEncodings, "encodings", "e", "", "Path to the encodings file (.json, .yaml)")
	storeCmd.MarkFlagRequired("encodings")
	rootCmd.AddCommand(storeCmd)
}
