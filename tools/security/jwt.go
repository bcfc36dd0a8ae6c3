package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"RoomGate/service/chat"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls signing and token lifetime.
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // default 24h
	Issuer string        // checked when non-empty
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 24 * time.Hour}
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Generate signs a token for u. The user id goes into "sub" and the
// display fields into their own claims.
func Generate(opts Options, u chat.User) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if len(opts.Secret) == 0 {
		return "", time.Time{}, errors.New("empty jwt secret")
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub":      strconv.FormatInt(u.ID, 10),
		"username": u.Username,
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      exp.Unix(),
	}
	if u.Email != "" {
		claims["email"] = u.Email
	}
	if u.Avatar != "" {
		claims["avatar"] = u.Avatar
	}
	if opts.Issuer != "" {
		claims["iss"] = opts.Issuer
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse validates signature, algorithm family and time claims.
func Parse(opts Options, token string) (jwtlib.MapClaims, error) {
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	parserOpts := []jwtlib.ParserOption{jwtlib.WithExpirationRequired()}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(opts.Issuer))
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// HMAC family only
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}
	return claims, nil
}

// UserFromClaims reads the user id from "sub" or "userId". Both may be a
// number or a decimal string.
func UserFromClaims(claims jwtlib.MapClaims) (chat.User, error) {
	raw, ok := claims["sub"]
	if !ok {
		raw, ok = claims["userId"]
	}
	if !ok {
		return chat.User{}, errors.New("token has no subject")
	}
	var id int64
	switch v := raw.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return chat.User{}, fmt.Errorf("bad subject %q", v)
		}
		id = n
	case float64:
		id = int64(v)
	default:
		return chat.User{}, fmt.Errorf("bad subject type %T", raw)
	}
	if id <= 0 {
		return chat.User{}, errors.New("non-positive user id")
	}
	u := chat.User{ID: id}
	u.Username, _ = claims["username"].(string)
	u.Email, _ = claims["email"].(string)
	u.Avatar, _ = claims["avatar"].(string)
	return u, nil
}

// Verifier is the JWT-backed chat.TokenVerifier.
type Verifier struct {
	opts Options
}

func NewVerifier(opts Options) *Verifier { return &Verifier{opts: opts} }

func (v *Verifier) Verify(_ context.Context, token string) (chat.User, error) {
	claims, err := Parse(v.opts, token)
	if err != nil {
		return chat.User{}, err
	}
	return UserFromClaims(claims)
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
