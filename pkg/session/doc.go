/*
Package session mounts a passthrough of a real directory and fakes the sizes
it reports to statfs.

# Lifecycle

	StateCreated ─► StateInitializing ─► StateReady ─► StateUnmounting ─► StateStopped
	                        │                                 ▲
	                        └──── init timeout, serve error ──┘

Create validates every option before anything is mounted. A rejected Create
builds no dispatcher, closes the session log and removes only a mount
directory it created itself. A path the caller supplied is never removed.
When MountPath is empty a temporary directory is created and removed again
on Close.

Once the dispatcher is serving, Create waits for the kernel handshake and
then polls the mount with statfs until a query has reached the session. Only
then does it return a session in StateReady:

	s, err := session.Create(ctx, session.Options{
		RootPath:  "/srv/data",
		MountPath: "/mnt/small",
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.SetDiskFixedMB(100); err != nil {
		return err
	}
	s.SetFreeDelta(-1000)

Unmount only requests the unmount and returns at once. Done is closed when
the mount has gone away, whether through Unmount or an external umount.
Close unmounts if needed, waits and returns the unmount or serve error.

# Capacity rules

The setters change the disk (total) and free (available) rules. They take
effect on the next statfs query and are safe to call from any goroutine. Sizes
are whole blocks of BlockSize bytes. The MB variants use decimal megabytes.
*/
package session
