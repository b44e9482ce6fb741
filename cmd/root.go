// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/stagerunner/config"
	"github.com/cardinalhq/stagerunner/internal/stagecred"
	"github.com/cardinalhq/stagerunner/internal/stageupload"
)

// DefaultHTTPUploadTimeout limits one presigned-URL chunk transfer from
// the CLI.
const DefaultHTTPUploadTimeout = 5 * time.Minute

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stagerunner",
	Short: "Upload row chunks to an ingestion stage",
	Long:  `Push serialized row chunks to the remote staging area using short-lived credentials from the control plane, attaching per-column pruning statistics.`,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(configureCheckCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadStage builds the credential cache and uploader from configuration.
func loadStage() (*config.Config, *stagecred.Cache, *stageupload.Uploader, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	client, err := stagecred.NewClient(cfg.Stage.Endpoint(), cfg.Stage.RequestTimeout)
	if err != nil {
		return nil, nil, nil, err
	}
	cache := stagecred.NewCache(client,
		stagecred.WithFreshnessThreshold(cfg.Stage.FreshnessThreshold))

	var backend stageupload.TransferBackend
	switch cfg.Upload.Backend {
	case "s3":
		var opts []stageupload.S3Option
		if cfg.Upload.S3Endpoint != "" {
			opts = append(opts, stageupload.WithS3Endpoint(cfg.Upload.S3Endpoint))
		}
		backend = stageupload.NewS3Backend(opts...)
	default:
		backend = stageupload.NewHTTPBackend(DefaultHTTPUploadTimeout)
	}

	uploader := stageupload.NewUploader(cache, backend,
		stageupload.WithMaxRetries(cfg.Stage.MaxRetries))
	return cfg, cache, uploader, nil
}
