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
	"log/slog"

	"github.com/spf13/cobra"
)

var configureCheckCmd = &cobra.Command{
	Use:   "configure-check",
	Short: "Fetch stage credentials once and report the stage location",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cache, _, err := loadStage()
		if err != nil {
			return err
		}

		creds, err := cache.ForceRefresh(cmd.Context())
		if err != nil {
			return err
		}

		si := creds.Descriptor.StageInfo
		slog.Info("stage configure succeeded",
			slog.String("locationType", si.LocationType),
			slog.String("location", si.Location),
			slog.String("region", si.Region),
			slog.Bool("hasCreds", len(si.Creds) > 0),
			slog.Bool("hasPresignedURL", creds.Descriptor.PresignedURL != ""),
			slog.Time("issuedAt", creds.IssuedAt))
		return nil
	},
}
