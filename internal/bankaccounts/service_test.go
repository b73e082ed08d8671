package bankaccounts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/changereq/changereqtest"
	"github.com/uvr-coop/uvr/internal/shared"
	"github.com/uvr-coop/uvr/internal/users"
)

type memoryRepo struct {
	accounts map[int64]Account
	entries  map[int64]int
	nextID   int64
}

type memoryTx struct{ repo *memoryRepo }

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{accounts: map[int64]Account{}, entries: map[int64]int{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Account, len(r.accounts))
	for k, v := range r.accounts {
		snapshot[k] = v
	}
	if err := fn(ctx, memoryTx{repo: r}); err != nil {
		r.accounts = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (r *memoryRepo) List(ctx context.Context, scope authz.Scope, page shared.Page) ([]Account, error) {
	var out []Account
	for _, a := range r.accounts {
		if scope.Contains(a.Scope()) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t memoryTx) Lock(ctx context.Context, id int64) (Account, error) { return t.repo.Get(ctx, id) }

func (t memoryTx) Insert(ctx context.Context, a Account) (int64, error) {
	t.repo.nextID++
	a.ID = t.repo.nextID
	t.repo.accounts[a.ID] = a
	return a.ID, nil
}

func (t memoryTx) Update(ctx context.Context, a Account) error {
	t.repo.accounts[a.ID] = a
	return nil
}

func (t memoryTx) HasEntries(ctx context.Context, id int64) (bool, error) {
	return t.repo.entries[id] > 0, nil
}

func (t memoryTx) Delete(ctx context.Context, id int64) error {
	delete(t.repo.accounts, id)
	return nil
}

type roleTable map[int64]users.User

func (r roleTable) FindByID(ctx context.Context, id int64) (*users.User, error) {
	u, ok := r[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &u, nil
}

var (
	home  = authz.Scope{UnitID: 3, AssociationID: 30}
	admin = authz.Actor{ID: 1, Role: users.RoleAdmin}
	maker = authz.Actor{ID: 2, Role: users.RoleUnitUser, UnitID: 3, AssociationID: 30}
)

func account() AccountInput {
	return AccountInput{BankName: " Banco Cooperativo ", Branch: "0001", AccountNumber: "12345-6", Label: "Operations"}
}

func TestCreateAndScopedGet(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, home, 2, account())
	require.NoError(t, err)
	require.Equal(t, "Banco Cooperativo", a.BankName)
	require.Equal(t, home, a.Scope())

	_, err = svc.Get(ctx, authz.Scope{UnitID: 4, AssociationID: 30}, a.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(ctx, home, 2, AccountInput{BankName: "X"})
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "account_number")
}

func TestDeleteAccountInUse(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, home, 2, account())
	require.NoError(t, err)
	repo.entries[a.ID] = 1

	require.ErrorIs(t, svc.Delete(ctx, a.ID), shared.ErrForeignKey)
	_, err = svc.Get(ctx, home, a.ID)
	require.NoError(t, err)
}

func TestDeleteRequestBlockedByEntries(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, home, 2, account())
	require.NoError(t, err)

	registry, err := changereq.NewRegistry(NewChangeTarget(svc))
	require.NoError(t, err)
	requests := changereq.NewService(changereqtest.NewRepository(), registry, authz.NewGate(roleTable{
		1: {ID: 1, Role: users.RoleAdmin, IsActive: true},
	}), nil)

	req, err := requests.Submit(ctx, maker, changereq.TargetBankAccount, a.ID, changereq.ActionDelete, nil)
	require.NoError(t, err)

	repo.entries[a.ID] = 2
	_, err = requests.Resolve(ctx, admin, req.ID, changereq.DecisionApprove, "")
	require.ErrorIs(t, err, shared.ErrForeignKey)

	pending, err := requests.Get(ctx, admin, req.ID)
	require.NoError(t, err)
	require.Equal(t, changereq.StatusPending, pending.Status)

	repo.entries[a.ID] = 0
	_, err = requests.Resolve(ctx, admin, req.ID, changereq.DecisionApprove, "")
	require.NoError(t, err)
	_, err = repo.Get(ctx, a.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestHandlerEditByUnitUserIsDeferred(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()
	a, err := svc.Create(ctx, home, 2, account())
	require.NoError(t, err)

	gate := authz.NewGate(roleTable{1: {ID: 1, Role: users.RoleAdmin, IsActive: true}})
	registry, err := changereq.NewRegistry(NewChangeTarget(svc))
	require.NoError(t, err)
	requests := changereq.NewService(changereqtest.NewRepository(), registry, gate, nil)

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(authz.WithActor(r.Context(), maker)))
		})
	})
	router.Route("/bank-accounts", NewHandler(nil, svc, gate, requests).MountRoutes)

	body := `{"bank_name":"Other Bank","branch":"","account_number":"999","label":""}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/bank-accounts/"+strconv.FormatInt(a.ID, 10), strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"status":"PENDING"`)

	stored, err := svc.Get(ctx, home, a.ID)
	require.NoError(t, err)
	require.Equal(t, "Banco Cooperativo", stored.BankName)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bank-accounts/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "12345-6")
}
