package tinybase

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestUniqueConstraint(t *testing.T) {
	people, nameIdx, _ := setupPeople(t)
	ensure(people.Constraint(Unique(nameIdx)))
	john, _, _ := insertPeople(t, people)

	_, err := people.Insert(Person{Name: "John", LastName: "Doe"})
	var exists *ExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("got %v, wanted ExistsError", err)
	}
	deepEqual(t, exists.Constraint, "people_idx_name")

	// The rejected insert left no trace, in the table or in the index.
	deepEqual(t, must(people.Len()), 3)
	deepEqual(t, recIDs(must(nameIdx.Select("John"))), []uint64{john})
}

func TestUniqueConstraintAllowsSelfUpdate(t *testing.T) {
	people, nameIdx, _ := setupPeople(t)
	ensure(people.Constraint(Unique(nameIdx)))
	john, _, _ := insertPeople(t, people)

	// Updating a record without changing its unique key is not a collision
	// with itself.
	updated := must(people.Update([]uint64{john}, func(p Person) Person {
		p.Age = 19
		return p
	}))
	deepEqual(t, recIDs(updated), []uint64{john})
}

func TestUniqueConstraintOnUpdate(t *testing.T) {
	people, nameIdx, _ := setupPeople(t)
	ensure(people.Constraint(Unique(nameIdx)))
	john, bill, _ := insertPeople(t, people)

	_, err := people.Update([]uint64{bill}, func(p Person) Person {
		p.Name = "John"
		return p
	})
	var exists *ExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("got %v, wanted ExistsError", err)
	}

	deepEqual(t, must(people.Select(bill)).Data.Name, "Bill")
	deepEqual(t, must(people.Select(john)).Data.Name, "John")
}

func TestUniqueConstraintConcurrentInserts(t *testing.T) {
	people, nameIdx, _ := setupPeople(t)
	ensure(people.Constraint(Unique(nameIdx)))

	// All writers race on the same unique key; exactly one may win, the rest
	// must see the winner's committed record during their constraint check.
	const writers = 8
	var wg sync.WaitGroup
	var won atomic.Uint64
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := people.Insert(Person{Name: "Highlander", LastName: fmt.Sprint(i)})
			if err == nil {
				won.Add(1)
			} else {
				errs[i] = err
			}
		}(i)
	}
	wg.Wait()

	deepEqual(t, won.Load(), uint64(1))
	for _, err := range errs {
		if err == nil {
			continue
		}
		var exists *ExistsError
		if !errors.As(err, &exists) {
			t.Fatalf("got %v, wanted ExistsError", err)
		}
	}
	deepEqual(t, must(people.Len()), 1)
	deepEqual(t, len(must(nameIdx.SelectIDs("Highlander"))), 1)
}

func TestBatchUpdateSelfCollision(t *testing.T) {
	people, nameIdx, _ := setupPeople(t)
	ensure(people.Constraint(Unique(nameIdx)))
	john, bill, _ := insertPeople(t, people)

	// Both candidates compute the same unique key; nothing may commit.
	_, err := people.Update([]uint64{john, bill}, func(p Person) Person {
		p.Name = "Sam"
		return p
	})
	if !errors.Is(err, ErrBatchConstraints) {
		t.Fatalf("got %v, wanted ErrBatchConstraints", err)
	}
	deepEqual(t, must(people.Select(john)).Data.Name, "John")
	deepEqual(t, must(people.Select(bill)).Data.Name, "Bill")
}

func TestBatchUpdateDistinctKeysSucceeds(t *testing.T) {
	people, _, lastIdx := setupPeople(t)
	ensure(people.Constraint(Unique(lastIdx)))

	a := must(people.Insert(Person{Name: "A", LastName: "One"}))
	b := must(people.Insert(Person{Name: "B", LastName: "Two"}))

	updated := must(people.Update([]uint64{a, b}, func(p Person) Person {
		p.LastName += "!"
		return p
	}))
	deepEqual(t, recIDs(updated), []uint64{a, b})
}

func TestCheckConstraint(t *testing.T) {
	db := setup(t)
	people := must(OpenTable[Person](db, "people"))
	ensure(people.Constraint(Check(func(p Person) bool { return p.Age >= 0 })))

	_, err := people.Insert(Person{Name: "Marty", Age: -1})
	if !errors.Is(err, ErrCondition) {
		t.Fatalf("got %v, wanted ErrCondition", err)
	}
	deepEqual(t, must(people.Len()), 0)

	id := must(people.Insert(Person{Name: "Marty", Age: 17}))
	_, err = people.Update([]uint64{id}, func(p Person) Person {
		p.Age = -5
		return p
	})
	if !errors.Is(err, ErrCondition) {
		t.Fatalf("got %v, wanted ErrCondition", err)
	}
	deepEqual(t, must(people.Select(id)).Data.Age, 17)
}

func TestDuplicateUniqueRegistrationIgnored(t *testing.T) {
	people, nameIdx, _ := setupPeople(t)
	ensure(people.Constraint(Unique(nameIdx)))
	ensure(people.Constraint(Unique(nameIdx)))

	people.cmu.RLock()
	n := len(people.constraints)
	people.cmu.RUnlock()
	deepEqual(t, n, 1)
}

func TestConstraintOrder(t *testing.T) {
	people, nameIdx, _ := setupPeople(t)
	ensure(people.Constraint(Unique(nameIdx)))
	ensure(people.Constraint(Check(func(p Person) bool { return p.Age < 200 })))
	insertPeople(t, people)

	// Both constraints would fail; the one registered first wins.
	_, err := people.Insert(Person{Name: "John", Age: 900})
	var exists *ExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("got %v, wanted ExistsError", err)
	}
}
