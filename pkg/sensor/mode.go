package sensor

import "github.com/voslund/decoynet/pkg/api"

// Mode is the interaction level of an admitted session.
type Mode string

const (
	ModeLowInteraction  Mode = "LowInteraction"
	ModeHighInteraction Mode = "HighInteraction"
)

// RejectReason classifies why a connection was refused admission.
type RejectReason string

const (
	RejectCapacity    RejectReason = "CAPACITY"
	RejectBlocked     RejectReason = "BLOCKED"
	RejectCredentials RejectReason = "CREDENTIALS"
)

// Decision is the admission outcome for one credential exchange.
type Decision struct {
	Admit  bool
	Mode   Mode
	Reject RejectReason
	// Strike marks a failed login that counts toward the address's block
	// threshold. Blocked and capacity rejections never strike.
	Strike bool
}

// selectMode decides admission from the policy, the attempted credentials
// and the address's current block state. It is pure: no clocks, no I/O.
//
// A bait match wins over everything, including an existing block, and
// always yields a high-interaction session. Admitted sessions are always
// high-interaction; low-interaction is the policy that admits nobody.
func selectMode(policy *api.PolicyConfig, cred api.Credential, blocked bool) Decision {
	if policy.IsBait(cred.Username, cred.Password) {
		return Decision{Admit: true, Mode: ModeHighInteraction}
	}
	if blocked {
		return Decision{Reject: RejectBlocked}
	}
	if policy.GetAllowAllCreds() {
		return Decision{Admit: true, Mode: ModeHighInteraction}
	}
	return Decision{Reject: RejectCredentials, Strike: true}
}
