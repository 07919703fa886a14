package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/lease"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcLockMgr lease.ILockManager

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Perform lock operations",
		Long:              "Perform lock operations against a lock manager shard of a dLock server. Resources are named by their type and id (e.g. Course 42).",
		PersistentPreRunE: setupLockClient,
	}

	checkCmd = &cobra.Command{
		Use:   "check [type] [id]",
		Short: "Show whether a resource is locked and by whom",
		Args:  cobra.ExactArgs(2),
		RunE:  runCheck,
	}

	acquireCmd = &cobra.Command{
		Use:   "acquire [type] [id]",
		Short: "Acquire or refresh a lease",
		Long:  "Acquire a lease on a resource. Acquiring a lease that is already held by the same owner refreshes it. Without --owner a random owner id is generated and printed.",
		Args:  cobra.ExactArgs(2),
		RunE:  runAcquire,
	}

	releaseCmd = &cobra.Command{
		Use:   "release [type] [id]",
		Short: "Release a lease held by the given owner",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}

	forceReleaseCmd = &cobra.Command{
		Use:   "force-release [type] [id]",
		Short: "Release a lease regardless of its owner",
		Args:  cobra.ExactArgs(2),
		RunE:  runForceRelease,
	}

	releaseAllCmd = &cobra.Command{
		Use:   "release-all",
		Short: "Release every lease held by the given owner",
		Args:  cobra.NoArgs,
		RunE:  runReleaseAll,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Remove all expired leases",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(checkCmd)
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)
	LockCommands.AddCommand(forceReleaseCmd)
	LockCommands.AddCommand(releaseAllCmd)
	LockCommands.AddCommand(sweepCmd)
	LockCommands.AddCommand(benchCmd)

	// Add common RPC flags to the lock command
	util.SetupRPCClientFlags(LockCommands)

	LockCommands.PersistentFlags().Int("shard", 100, util.WrapString("ID of the lock manager shard to connect to"))

	// Add flags specific to acquire
	acquireCmd.Flags().String("owner", "", util.WrapString("Owner id of the lease (default: random)"))
	releaseCmd.Flags().String("owner", "", util.WrapString("Owner id of the lease"))
	releaseAllCmd.Flags().String("owner", "", util.WrapString("Owner id whose leases are released"))
	_ = releaseCmd.MarkFlagRequired("owner")
	_ = releaseAllCmd.MarkFlagRequired("owner")
	acquireCmd.Flags().String("display", "", util.WrapString("Human readable name of the owner shown to other clients"))
	acquireCmd.Flags().String("mode", "write", util.WrapString("Lock mode (write, read)"))
	acquireCmd.Flags().Duration("duration", 0, util.WrapString("Lease duration (0 = server default)"))
}

// setupLockClient initializes the lock manager client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcLockMgr, err = client.NewRPCLockMgr(util.GetShardID(), *util.GetClientConfig(), t, s)
	return err
}

func commandContext() (context.Context, context.CancelFunc) {
	if timeout := viper.GetInt("timeout"); timeout > 0 {
		return context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	}
	return context.WithCancel(context.Background())
}

// parseKey builds the key from the [type] [id] arguments
func parseKey(args []string) (db.Key, error) {
	key := db.NewKey(db.ResourceType(args[0]), args[1])
	if !key.Valid() {
		return db.Key{}, fmt.Errorf("invalid resource %q", key)
	}
	return key, nil
}

func printRecord(rec db.Record) {
	fmt.Printf("owner=%s display=%q mode=%s acquired_at=%s expires_at=%s\n",
		rec.OwnerID, rec.OwnerDisplay, rec.Mode,
		rec.AcquiredAt.Format(time.RFC3339), rec.ExpiresAt.Format(time.RFC3339))
}

func runCheck(_ *cobra.Command, args []string) error {
	key, err := parseKey(args)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	status, err := rpcLockMgr.CheckLock(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}

	fmt.Printf("locked=%v\n", status.Locked)
	if status.Locked {
		printRecord(status.Record)
	}
	return nil
}

func runAcquire(cmd *cobra.Command, args []string) error {
	key, err := parseKey(args)
	if err != nil {
		return err
	}

	mode, err := db.ParseMode(viper.GetString("mode"))
	if err != nil {
		return err
	}

	owner := viper.GetString("owner")
	if owner == "" {
		owner = lease.NewOwnerID()
	}

	ctx, cancel := commandContext()
	defer cancel()

	res, err := rpcLockMgr.AcquireLock(ctx, lease.AcquireRequest{
		Key:          key,
		OwnerID:      owner,
		OwnerDisplay: viper.GetString("display"),
		Mode:         mode,
		Duration:     viper.GetDuration("duration"),
	})
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	fmt.Printf("result=%s\n", res.Code)
	printRecord(res.Record)
	return nil
}

func runRelease(_ *cobra.Command, args []string) error {
	key, err := parseKey(args)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	res, err := rpcLockMgr.ReleaseLock(ctx, key, viper.GetString("owner"))
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Printf("released=%v reason=%s\n", res.Success, res.Reason)
	return nil
}

func runForceRelease(_ *cobra.Command, args []string) error {
	key, err := parseKey(args)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	res, err := rpcLockMgr.ForceRelease(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Printf("released=%v reason=%s\n", res.Success, res.Reason)
	return nil
}

func runReleaseAll(_ *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	n, err := rpcLockMgr.ReleaseAllForOwner(ctx, viper.GetString("owner"))
	if err != nil {
		return fmt.Errorf("failed to release locks: %w", err)
	}

	fmt.Printf("released=%d\n", n)
	return nil
}

func runSweep(_ *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	n, err := rpcLockMgr.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep: %w", err)
	}

	fmt.Printf("swept=%d\n", n)
	return nil
}
