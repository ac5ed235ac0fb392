package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
)

// bundleTypeFolders are the cache subfolders that hold versioned bundles.
var bundleTypeFolders = []string{"app_store", "git", "gitbranch", "sg_upload", "manual", "baked"}

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the bundle cache",
		Long: `Commands for inspecting the local bundle cache.

The cache holds downloaded bundles under one writable primary root plus
optional read-only fallback roots shared across a studio.`,
	}

	cmd.AddCommand(newCacheListCommand())
	cmd.AddCommand(newCacheLocateCommand())
	cmd.AddCommand(newCacheRootsCommand())

	return cmd
}

func newCacheListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached bundles",
		Long:  `List every bundle version present in the cache roots.`,
		Example: `  # List all cached bundles
  pipekit cache list -s settings.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			roots := env.factory.Roots()
			for _, root := range roots.SearchOrder() {
				entries := listCachedBundles(root)
				if len(entries) == 0 {
					continue
				}
				fmt.Printf("%s:\n", root)
				for _, entry := range entries {
					fmt.Printf("  %s\n", entry)
				}
			}
			return nil
		},
	}

	return cmd
}

// listCachedBundles walks one cache root and returns "type/name/version"
// entries, sorted for stable output.
func listCachedBundles(root string) []string {
	var entries []string
	for _, typeFolder := range bundleTypeFolders {
		base := filepath.Join(root, typeFolder)
		bundles, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, bundle := range bundles {
			if !bundle.IsDir() {
				continue
			}
			versions, err := os.ReadDir(filepath.Join(base, bundle.Name()))
			if err != nil {
				continue
			}
			for _, version := range versions {
				if !version.IsDir() {
					continue
				}
				entries = append(entries, fmt.Sprintf("%s/%s/%s", typeFolder, bundle.Name(), version.Name()))
			}
		}
	}
	sort.Strings(entries)
	return entries
}

func newCacheLocateCommand() *cobra.Command {
	var download bool

	cmd := &cobra.Command{
		Use:   "locate <descriptor-uri>",
		Short: "Locate a bundle in the cache",
		Long: `Resolve a descriptor URI to its local cache path.

Without --download the command only reports whether the bundle is cached.
With --download a missing bundle is fetched first.`,
		Example: `  # Check whether a bundle is cached
  pipekit cache locate -s settings.yml "sgtk:descriptor:app_store?name=tk-core&version=v0.21.6"

  # Fetch it if missing
  pipekit cache locate -s settings.yml --download "sgtk:descriptor:app_store?name=tk-core&version=v0.21.6"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := newEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.close()

			transport, err := env.factory.NewFromURI(args[0])
			if err != nil {
				return err
			}

			if download {
				path, err := transport.EnsureLocal(ctx)
				if err != nil {
					return err
				}
				fmt.Println(path)
				return nil
			}

			if path := transport.LocalPath(); path != "" {
				fmt.Println(path)
				return nil
			}

			fmt.Println("not cached")
			return nil
		},
	}

	cmd.Flags().BoolVar(&download, "download", false, "download the bundle if it is not cached")

	return cmd
}

func newCacheRootsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roots",
		Short: "Show the configured cache roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			roots := env.factory.Roots()
			fmt.Printf("primary:  %s\n", roots.Primary)
			for _, fallback := range roots.Fallbacks {
				fmt.Printf("fallback: %s\n", fallback)
			}
			return nil
		},
	}

	return cmd
}
