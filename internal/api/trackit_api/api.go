// Package trackit_api is the REST surface of track-api.
package trackit_api

import (
	"context"
	"net/http"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type PackagesService interface {
	Create(ctx context.Context, userID string, in models.PackageCreateInput) (*models.PackageView, error)
	List(ctx context.Context, userID string, archived bool) ([]*models.PackageView, error)
	Get(ctx context.Context, userID, id string) (*models.PackageView, error)
	Update(ctx context.Context, userID, id string, patch models.PackagePatch) (*models.PackageView, error)
	Delete(ctx context.Context, userID, id string) error
	Events(ctx context.Context, userID, id string) ([]*models.TrackingEvent, error)
	Locations(ctx context.Context, userID, id string) (*models.PackageLocations, error)
	Refresh(ctx context.Context, userID, id string) (*models.PackageView, error)
	Lookup(ctx context.Context, trackingNumber, courier string) (*carrier.Record, error)
}

type DeliveryLocationsService interface {
	List(ctx context.Context, userID string) ([]*models.DeliveryLocation, error)
	Get(ctx context.Context, userID, id string) (*models.DeliveryLocation, error)
	Create(ctx context.Context, userID string, in models.DeliveryLocationInput) (*models.DeliveryLocation, error)
	Update(ctx context.Context, userID, id string, in models.DeliveryLocationInput) (*models.DeliveryLocation, error)
	Delete(ctx context.Context, userID, id string) error
	Geocode(ctx context.Context, address string) (*models.GeocodeResult, error)
}

type LocationsAdmin interface {
	ListLocations(ctx context.Context, failedOnly bool) ([]*models.LocationUsage, error)
	SetAlias(ctx context.Context, raw string, alias *string) (*models.Location, error)
	Retry(ctx context.Context, raw string) (*models.Location, error)
	ResolvePending(ctx context.Context) (int, error)
}

type CourierCatalog interface {
	List(ctx context.Context) ([]carrier.Courier, error)
}

type UsersService interface {
	LoginWithGoogle(ctx context.Context, idToken string) (string, *models.User, error)
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// Pinger is checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	packages  PackagesService
	locations DeliveryLocationsService
	admin     LocationsAdmin
	couriers  CourierCatalog
	users     UsersService

	readiness map[string]Pinger
	validate  *requestValidator
}

func New(
	packages PackagesService,
	locations DeliveryLocationsService,
	admin LocationsAdmin,
	couriers CourierCatalog,
	users UsersService,
) *API {
	return &API{
		packages:  packages,
		locations: locations,
		admin:     admin,
		couriers:  couriers,
		users:     users,
		readiness: map[string]Pinger{},
		validate:  newRequestValidator(),
	}
}

// WithReadiness adds a dependency checked by /readyz.
func (a *API) WithReadiness(name string, p Pinger) *API {
	if p != nil {
		a.readiness[name] = p
	}
	return a
}

// Routes mounts every endpoint on r. Middleware is scoped to a group so the
// caller may register its own routes on r before or after.
func (a *API) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(observe)

		r.Get("/healthz", a.healthz)
		r.Get("/readyz", a.readyz)

		r.Route("/api", a.apiRoutes)
	})
}

func (a *API) apiRoutes(r chi.Router) {
	r.Post("/auth/google", a.loginGoogle)

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)

		r.Get("/auth/me", a.me)

		r.Route("/packages", func(r chi.Router) {
			r.Get("/", a.listPackages)
			r.Post("/", a.createPackage)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getPackage)
				r.Put("/", a.updatePackage)
				r.Delete("/", a.deletePackage)
				r.Get("/events", a.packageEvents)
				r.Get("/locations", a.packageLocations)
			})
		})

		r.Route("/tracking", func(r chi.Router) {
			r.Get("/couriers", a.listCouriers)
			r.Post("/lookup", a.lookup)
			r.Post("/refresh/{id}", a.refresh)
		})

		r.Route("/delivery-locations", func(r chi.Router) {
			r.Get("/", a.listDeliveryLocations)
			r.Post("/", a.createDeliveryLocation)
			r.Post("/geocode", a.geocodeAddress)
			r.Get("/{id}", a.getDeliveryLocation)
			r.Put("/{id}", a.updateDeliveryLocation)
			r.Delete("/{id}", a.deleteDeliveryLocation)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/locations", a.adminListLocations)
			r.Post("/locations/geocode-pending", a.adminGeocodePending)
			r.Put("/locations/{location}/alias", a.adminSetAlias)
			r.Post("/locations/{location}/retry", a.adminRetry)
		})
	})
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(a.readiness))
	for name, p := range a.readiness {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}
