package domain

// Allocation error taxonomy. Services return op-annotated copies made with
// WithOp; match them with errors.Is.
var (
	// ErrNoEligibleAccount means no pool member can satisfy the requested
	// profile count. Staff must provision a new account.
	ErrNoEligibleAccount = &Error{
		Code:    EUNAVAILABLE,
		Message: "This subscription is temporarily unavailable",
	}

	// ErrInsufficientSlots means a reservation lost a race: fewer free slots
	// remained at commit time than were requested.
	ErrInsufficientSlots = &Error{
		Code:    ECONFLICT,
		Message: "Not enough free profile slots on the account",
	}

	// ErrInvalidPlatformConfig means the platform/profile-count combination can
	// never be satisfied.
	ErrInvalidPlatformConfig = &Error{
		Code:    ECONFIG,
		Message: "Platform does not support the requested number of profiles",
	}

	// ErrAccountHasBoundSlots guards destructive account operations.
	ErrAccountHasBoundSlots = &Error{
		Code:    ECONFLICT,
		Message: "Account still has profile slots bound to subscriptions",
	}

	// ErrRenewalUnavailable means a renewal found no capacity, even outside
	// the previously used account.
	ErrRenewalUnavailable = &Error{
		Code:    EUNAVAILABLE,
		Message: "Renewal could not be allocated; staff will contact the client",
	}

	// ErrInvalidTransition means a lifecycle transition is not allowed from
	// the current status.
	ErrInvalidTransition = &Error{
		Code:    ECONFLICT,
		Message: "Subscription status does not allow this action",
	}
)

// Allocation strategies recorded on a subscription.
const (
	StrategySelected  = "selected"  // best-fit selection across the pool
	StrategyPreferred = "preferred" // fresh slots on the previous account
	StrategyHandover  = "handover"  // slots moved over from the renewed subscription
)

// AllocationInfo records how a subscription's slots were obtained.
type AllocationInfo struct {
	Strategy string `json:"strategy,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// ErrAlreadyRenewed means the subscription already has a successor.
var ErrAlreadyRenewed = &Error{
	Code:    ECONFLICT,
	Message: "Subscription has already been renewed",
}
