package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/shop-tracking/internal/authz"
	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/reqctx"
	"github.com/shinyyama/shop-tracking/internal/repository"
)

const principalKey = "principal"

var errInvalidToken = errors.New("invalid token")

// Verifier turns a bearer token into the principal it identifies.
type Verifier interface {
	Verify(ctx context.Context, token string) (authz.Principal, error)
}

// Claims are the claims of tokens accepted by JWTVerifier. The subject is the
// decimal user id.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenStr string) (authz.Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return authz.Principal{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return authz.Principal{}, fmt.Errorf("%w: bad subject", errInvalidToken)
	}
	return authz.Principal{UserID: id, Role: claims.Role}, nil
}

// Issue signs a token for p valid for ttl.
func (v *JWTVerifier) Issue(p authz.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// FirebaseVerifier accepts Firebase ID tokens and maps the Firebase uid to a
// local user, whose role is authoritative.
type FirebaseVerifier struct {
	client *auth.Client
	users  repository.UserRepository
}

func NewFirebaseVerifier(ctx context.Context, projectID string, users repository.UserRepository) (*FirebaseVerifier, error) {
	if projectID == "" {
		return nil, errors.New("FIREBASE_PROJECT_ID is not set")
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return &FirebaseVerifier{client: client, users: users}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, tokenStr string) (authz.Principal, error) {
	token, err := v.client.VerifyIDToken(ctx, tokenStr)
	if err != nil {
		return authz.Principal{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	u, err := v.users.FindByFirebaseUID(ctx, token.UID)
	if err != nil {
		return authz.Principal{}, fmt.Errorf("%w: unknown user", errInvalidToken)
	}
	return authz.Principal{UserID: u.ID, Role: u.Role}, nil
}

type AuthMiddleware struct {
	verifier Verifier
}

func NewAuthMiddleware(v Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		ctx := c.Request().Context()
		p, err := m.verifier.Verify(ctx, parts[1])
		if err != nil {
			reqctx.Logger(ctx).Debug("token rejected", "err", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		c.Set(principalKey, p)
		c.SetRequest(c.Request().WithContext(reqctx.WithUserID(ctx, p.UserID)))
		return next(c)
	}
}

// PrincipalFrom returns the principal stored by RequireAuth.
func PrincipalFrom(c echo.Context) (authz.Principal, bool) {
	p, ok := c.Get(principalKey).(authz.Principal)
	return p, ok
}

// RequirePermission rejects requests whose principal may not perform action
// on resource. It must run after RequireAuth.
func RequirePermission(gate *authz.Gate, resource, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			if err := gate.Check(p, resource, action); err != nil {
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}
