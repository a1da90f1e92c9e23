// Package trustfund automates conditional payouts from a grantor's fund to
// weighted beneficiaries.
//
// A fund is Active while its grantor manages it (beneficiaries, living
// switch, check-ins, recurring allowances). The controller evaluates every
// Active fund's living switch once per block, right after the scheduler hook.
// The first time the switch holds, the fund turns Triggered: allowances are
// cancelled and one transfer per beneficiary is scheduled, owned by the
// fund, splitting the balance exactly by weight. The fund is then Closed.
//
// The controller never touches the agenda directly; it only keeps the ids of
// the tasks it created and goes through the scheduler to cancel them.
package trustfund
