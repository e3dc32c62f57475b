package utils // package utils provides helpers for tokens, references and hashing

import (
    "crypto/rand"
    "crypto/sha256"
    "encoding/hex"
    "errors"
    "math/big"
    "strings"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/google/uuid"
)

// AccessToken is a signed JWT together with its expiry.
type AccessToken struct {
    Token string    `json:"access_token"`
    Exp   time.Time `json:"access_expires_at"`
}

// RefreshToken is the raw refresh token handed to the client.  Only its
// SHA‑256 hash is stored.
type RefreshToken struct {
    Raw string    `json:"refresh_token"`
    Exp time.Time `json:"refresh_expires_at"`
}

// Identity is what an access token asserts about its bearer.
type Identity struct {
    UserID uint64
    Role   string
}

// NewAccessToken signs an HS256 JWT carrying sub (user id) and role.
func NewAccessToken(secret string, userID uint64, role string, ttlMin int) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(time.Duration(ttlMin) * time.Minute)
    claims := jwt.MapClaims{
        "sub":  userID,
        "role": role,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken validates raw and returns its identity.  Only HMAC
// signatures are accepted.
func ParseAccessToken(secret, raw string) (Identity, error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, errors.New("unexpected signing method")
        }
        return []byte(secret), nil
    })
    if err != nil || !tok.Valid {
        return Identity{}, errors.New("invalid token")
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    if !ok {
        return Identity{}, errors.New("invalid claims")
    }
    // numeric claims decode as float64
    sub, ok := claims["sub"].(float64)
    if !ok || sub <= 0 {
        return Identity{}, errors.New("invalid subject")
    }
    role, _ := claims["role"].(string)
    return Identity{UserID: uint64(sub), Role: role}, nil
}

// NewRefreshToken returns 48 random bytes hex encoded, valid for ttlDays.
func NewRefreshToken(ttlDays int) (RefreshToken, error) {
    raw, err := randomHex(48)
    if err != nil {
        return RefreshToken{}, err
    }
    return RefreshToken{
        Raw: raw,
        Exp: time.Now().UTC().Add(time.Duration(ttlDays) * 24 * time.Hour),
    }, nil
}

// HashRefreshRaw returns the hex SHA‑256 of a raw refresh token.
func HashRefreshRaw(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}

// NewBookingReference returns a short human-friendly booking reference
// such as "SH-3F9A2C7B1E".
func NewBookingReference() string {
    id := strings.ReplaceAll(uuid.NewString(), "-", "")
    return "SH-" + strings.ToUpper(id[:10])
}

// no 0/O/1/l/I to keep temporary passwords readable over the phone
const tempAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// TempPassword returns an n character random password for invited staff.
func TempPassword(n int) (string, error) {
    out := make([]byte, n)
    max := big.NewInt(int64(len(tempAlphabet)))
    for i := range out {
        v, err := rand.Int(rand.Reader, max)
        if err != nil {
            return "", err
        }
        out[i] = tempAlphabet[v.Int64()]
    }
    return string(out), nil
}
