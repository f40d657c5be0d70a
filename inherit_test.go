package scoped_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/scoped/v2"
)

func TestTasksInheritBindings(t *testing.T) {
	user := scoped.NewKey[string]()

	var seen atomic.Int32
	err := scoped.RunWhere(context.Background(), user, "duke", func(ctx context.Context) {
		err := scoped.Run(ctx, func(sp scoped.Spawner) {
			for i := range 10 {
				sp.Go(fmt.Sprintf("reader-%d", i), func(ctx context.Context) error {
					v, err := user.Get(ctx)
					if err != nil {
						return err
					}
					if v != "duke" {
						return fmt.Errorf("got %q", v)
					}
					seen.Add(1)
					return nil
				})
			}
		})
		require.NoError(t, err)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(10), seen.Load())
}

func TestSubTasksInheritTransitively(t *testing.T) {
	user := scoped.NewKey[string]()
	depth := scoped.NewKey[int]()

	err := scoped.RunWhere(context.Background(), user, "duchess", func(ctx context.Context) {
		err := scoped.Run(ctx, func(sp scoped.Spawner) {
			sp.Spawn("parent", func(ctx context.Context, sub scoped.Spawner) error {
				sub.Go("child", func(ctx context.Context) error {
					v, err := user.Get(ctx)
					if err != nil {
						return err
					}
					if v != "duchess" {
						return fmt.Errorf("child got %q", v)
					}
					return nil
				})

				// A task can rebind for its own nested scope.
				return scoped.RunWhere(ctx, depth, 2, func(ctx context.Context) {
					err := scoped.Run(ctx, func(sp scoped.Spawner) {
						sp.Go("grandchild", func(ctx context.Context) error {
							d, err := depth.Get(ctx)
							if err != nil {
								return err
							}
							u, err := user.Get(ctx)
							if err != nil {
								return err
							}
							if d != 2 || u != "duchess" {
								return fmt.Errorf("grandchild got %d/%q", d, u)
							}
							return nil
						})
					})
					assert.NoError(t, err)
				})
			})
		})
		require.NoError(t, err)
	})
	require.NoError(t, err)
}

func TestScopeCreatedOutsideBindingSeesNothing(t *testing.T) {
	k := scoped.NewKey[int]()
	ctx := scoped.Isolate(context.Background())

	sc, sp := scoped.New(ctx)
	sp.Go("unbound", func(ctx context.Context) error {
		if k.IsBound(ctx) {
			return fmt.Errorf("unexpected binding")
		}
		return nil
	})
	require.NoError(t, sc.Wait())
}

func TestTaskRebindingIsPrivate(t *testing.T) {
	k := scoped.NewKey[string]()

	err := scoped.RunWhere(context.Background(), k, "shared", func(ctx context.Context) {
		release := make(chan struct{})
		err := scoped.Run(ctx, func(sp scoped.Spawner) {
			sp.Go("rebinder", func(ctx context.Context) error {
				return scoped.RunWhere(ctx, k, "private", func(ctx context.Context) {
					<-release
				})
			})
			sp.Go("reader", func(ctx context.Context) error {
				defer close(release)
				v, err := k.Get(ctx)
				if err != nil {
					return err
				}
				if v != "shared" {
					return fmt.Errorf("reader saw %q", v)
				}
				return nil
			})
		})
		require.NoError(t, err)

		v, _ := k.Get(ctx)
		assert.Equal(t, "shared", v)
	})
	require.NoError(t, err)
}

func TestSpawnResultInherits(t *testing.T) {
	k := scoped.NewKey[int]()
	var r *scoped.Result[int]
	err := scoped.RunWhere(context.Background(), k, 21, func(ctx context.Context) {
		require.NoError(t, scoped.Run(ctx, func(sp scoped.Spawner) {
			r = scoped.SpawnResult(sp, "double", func(ctx context.Context) (int, error) {
				v, err := k.Get(ctx)
				return v * 2, err
			})
		}))
	})
	require.NoError(t, err)
	v, err := r.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPoolWorkersInherit(t *testing.T) {
	k := scoped.NewKey[string]()
	var hits atomic.Int32

	err := scoped.RunWhere(context.Background(), k, "tenant-a", func(ctx context.Context) {
		p := scoped.NewPool(ctx, 3)
		for range 9 {
			require.NoError(t, p.Submit(func(ctx context.Context) error {
				v, err := k.Get(ctx)
				if err != nil {
					return err
				}
				if v != "tenant-a" {
					return fmt.Errorf("worker saw %q", v)
				}
				hits.Add(1)
				return nil
			}))
		}
		require.NoError(t, p.Close())
	})
	require.NoError(t, err)
	assert.Equal(t, int32(9), hits.Load())
}

func TestHelpersInherit(t *testing.T) {
	k := scoped.NewKey[int]()
	err := scoped.RunWhere(context.Background(), k, 10, func(ctx context.Context) {
		out, err := scoped.MapSlice(ctx, []int{1, 2, 3}, func(ctx context.Context, n int) (int, error) {
			base, err := k.Get(ctx)
			return base + n, err
		})
		require.NoError(t, err)
		assert.Equal(t, []int{11, 12, 13}, out)

		v, err := scoped.Race(ctx, func(ctx context.Context) (int, error) {
			return k.Get(ctx)
		})
		require.NoError(t, err)
		assert.Equal(t, 10, v)
	})
	require.NoError(t, err)
}
