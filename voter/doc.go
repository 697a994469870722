// Package voter holds the authorization decision layer.
//
// A [Manager] asks every [Voter] that supports an (attribute, target) pair
// for its opinion. Evaluation is deny-by-default:
//
//  1. any voter returning [Deny] vetoes the request
//  2. otherwise any voter returning [Grant] allows it
//  3. otherwise (no voter, or all abstained) the request is denied
//
// Attributes are "<RESOURCE>_<ACTION>" names such as USER_EDIT or
// SESSION_TERMINATE, plus built-in role names such as ROLE_ADMIN. Voters are
// pure functions of their inputs, so every (principal, attribute, target)
// triple yields exactly one decision.
package voter
