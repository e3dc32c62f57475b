package model

import "time"

// Role names stored in users.role and carried in the JWT "role" claim.
const (
    RoleAdmin         = "ADMIN"
    RoleMerchant      = "MERCHANT"
    RoleInstitution   = "INSTITUTION"
    RoleIncharge      = "INCHARGE"
    RoleStudent       = "STUDENT"
    RoleTelemarketing = "TELEMARKETING"
    RoleSettlement    = "SETTLEMENT"
    RoleCustomerCare  = "CUSTOMER_CARE"
)

// AllRoles lists every role an administrator may assign.
var AllRoles = []string{
    RoleAdmin, RoleMerchant, RoleInstitution, RoleIncharge, RoleStudent,
    RoleTelemarketing, RoleSettlement, RoleCustomerCare,
}

// IsValidRole reports whether r is one of the known roles.
func IsValidRole(r string) bool {
    for _, v := range AllRoles {
        if v == r {
            return true
        }
    }
    return false
}

// IsHallOwnerRole reports whether the role owns study halls.  Institutions
// list their own reading rooms and are treated like merchants.
func IsHallOwnerRole(r string) bool { return r == RoleMerchant || r == RoleInstitution }

// User represents a row in the `users` table.  The password hash never
// leaves the repository layer in responses: it carries a "-" json tag.
type User struct {
    ID           uint64    `json:"id"`         // users.id
    Email        string    `json:"email"`      // users.email
    Phone        string    `json:"phone"`      // users.phone
    FullName     string    `json:"full_name"`  // users.full_name
    PasswordHash string    `json:"-"`          // users.password_hash
    Role         string    `json:"role"`       // users.role
    IsActive     bool      `json:"is_active"`  // users.is_active
    CreatedAt    time.Time `json:"created_at"` // users.created_at
    UpdatedAt    time.Time `json:"updated_at"` // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The plain
// token is not stored; only its SHA‑256 hash.
type RefreshToken struct {
    ID        uint64     // refresh_tokens.id
    UserID    uint64     // refresh_tokens.user_id
    TokenHash string     // refresh_tokens.token_hash
    ExpiresAt time.Time  // refresh_tokens.expires_at
    RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
    CreatedAt time.Time  // refresh_tokens.created_at
}
