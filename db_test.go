package tinybase

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type Person struct {
	Name     string `msgpack:"n"`
	LastName string `msgpack:"l"`
	Age      int    `msgpack:"a"`
}

func setup(t testing.TB) *DB {
	t.Helper()
	db := must(Open("", Options{IsTesting: true}))
	t.Cleanup(func() { db.Close() })
	return db
}

func setupPeople(t testing.TB) (*Table[Person], *Index[Person, string], *Index[Person, string]) {
	t.Helper()
	db := setup(t)
	people := must(OpenTable[Person](db, "people"))
	nameIdx := must(CreateIndex(people, "name", func(p Person) string { return p.Name }))
	lastIdx := must(CreateIndex(people, "last_name", func(p Person) string { return p.LastName }))
	return people, nameIdx, lastIdx
}

func insertPeople(t testing.TB, people *Table[Person]) (john, bill, coraline uint64) {
	t.Helper()
	john = must(people.Insert(Person{Name: "John", LastName: "Smith", Age: 18}))
	bill = must(people.Insert(Person{Name: "Bill", LastName: "Smith", Age: 40}))
	coraline = must(people.Insert(Person{Name: "Coraline", LastName: "Jones", Age: 16}))
	return
}

func TestPeopleScenario(t *testing.T) {
	people, nameIdx, lastIdx := setupPeople(t)
	ensure(people.Constraint(Unique(nameIdx)))
	ensure(people.Constraint(Check(func(p Person) bool {
		return !strings.Contains(p.Name, ".")
	})))

	john, bill, coraline := insertPeople(t, people)

	smiths := must(lastIdx.Select("Smith"))
	deepEqual(t, recIDs(smiths), []uint64{john, bill})
	deepEqual(t, smiths[0].Data.Name, "John")
	deepEqual(t, smiths[1].Data.Name, "Bill")

	updated := must(Query(people).
		WithCondition(Or(By(nameIdx, "John"), By(lastIdx, "Jones"))).
		Update(func(p Person) Person {
			p.LastName = "Brown"
			return p
		}))
	deepEqual(t, recIDs(updated), []uint64{john, coraline})

	deepEqual(t, must(people.Select(john)).Data.LastName, "Brown")
	deepEqual(t, must(people.Select(bill)).Data.LastName, "Smith")
	deepEqual(t, must(people.Select(coraline)).Data.LastName, "Brown")

	_, err := people.Insert(Person{Name: "John", LastName: "Doe"})
	var exists *ExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("duplicate insert: got %v, wanted ExistsError", err)
	}
	deepEqual(t, exists.Constraint, "people_idx_name")

	_, err = people.Insert(Person{Name: "Dr.Evil", LastName: "Doe"})
	if !errors.Is(err, ErrCondition) {
		t.Fatalf("dotted insert: got %v, wanted ErrCondition", err)
	}

	deepEqual(t, must(people.Len()), 3)
}

func recIDs[T any](recs []Record[T]) []uint64 {
	ids := make([]uint64, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return ids
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}
