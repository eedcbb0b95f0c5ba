package auditlog

// Message keys. Each key lives in the "audit" namespace of the message
// catalog; the comment names the visibility it is emitted with.
const (
	KeyAttackHit             = "audit.attack.hit"              // public
	KeyAttackHitDetail       = "audit.attack.hit_detail"       // privileged
	KeyAttackEmpty           = "audit.attack.empty"            // privileged
	KeyAttackCancelled       = "audit.attack.cancelled"        // public
	KeyAttackCancelledDetail = "audit.attack.cancelled_detail" // privileged
	KeyProtect               = "audit.protect"                 // public
	KeyProtectDetail         = "audit.protect.detail"          // privileged
	KeyReflect               = "audit.reflect"                 // public
	KeyEffectCast            = "audit.effect.cast"             // public
	KeyEffectCastDetail      = "audit.effect.cast_detail"      // privileged
	KeyEffectHit             = "audit.effect.hit"              // public
	KeyEffectHitDetail       = "audit.effect.hit_detail"       // privileged
	KeyEffectFizzled         = "audit.effect.fizzled"          // privileged
	KeyKill                  = "audit.kill"                    // public
	KeyKillEffect            = "audit.kill.effect"             // public
	KeyRetaliate             = "audit.retaliate"               // public
	KeyReward                = "audit.reward"                  // public
	KeyEntityArrived         = "audit.entity.arrived"          // public
	KeyMend                  = "audit.mend"                    // public
	KeyMendDetail            = "audit.mend.detail"             // privileged
	KeyEliminated            = "audit.participant.eliminated"  // public
	KeyActorDown             = "audit.actor.down"              // privileged
	KeyVerdict               = "audit.verdict.ended"           // public

	KeyMissingItem   = "audit.anomaly.missing_item"   // privileged
	KeyNotPermitted  = "audit.anomaly.not_permitted"  // privileged
	KeyBadTarget     = "audit.anomaly.bad_target"     // privileged
	KeyCommitClamped = "audit.anomaly.commit_clamped" // privileged

	KeyInfectDetail    = "audit.infect.detail"    // privileged
	KeyInfectBlocked   = "audit.infect.blocked"   // privileged
	KeyGuardDetail     = "audit.guard.detail"     // privileged
	KeyTest            = "audit.test"             // public
	KeyTestDetail      = "audit.test.detail"      // privileged
	KeyTestPositive    = "audit.test.positive"    // private
	KeyTestNegative    = "audit.test.negative"    // private
	KeyVaccinate       = "audit.vaccinate"        // public
	KeyVaccinateDetail = "audit.vaccinate.detail" // privileged
	KeyVaccinated      = "audit.vaccinate.notice" // private
	KeyCommit          = "audit.commit"           // public
	KeyCommitDetail    = "audit.commit.detail"    // privileged
	KeySpread          = "audit.spread"           // public
	KeySpreadDetail    = "audit.spread.detail"    // privileged
	KeyVoteCast        = "audit.vote.cast"        // privileged
	KeyVoteOut         = "audit.vote.out"         // public
	KeyVoteNone        = "audit.vote.none"        // public
	KeyVoteTie         = "audit.vote.tie"         // privileged
)

// Cancellation and refusal reasons carried on lines.
const (
	ReasonProtected       = "target protected"
	ReasonGuarded         = "guarded"
	ReasonImmune          = "immune"
	ReasonAlreadyInfected = "already infected"
)
