package filelog

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/model"
	"github.com/flowkeeper-org/fk-engine/internal/source"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// Repair salvages as much of a broken log as possible:
//
//  1. drop unparseable lines and duplicate creations
//  2. synthesize missing users, backlogs and workitems at first
//     reference, grouping orphan workitems under one repaired backlog
//  3. renumber strategies 1..N and test-replay against a scratch tree,
//     removing the failing strategy and repeating until the replay is
//     clean
//
// On any change the original file is kept as a timestamped backup and
// rewritten; a clean file is left untouched, so repairing twice is a
// no-op. A strategy that replays cleanly is never dropped. Repair
// returns the ordered list of human-readable changes it made.
func (fs *FileSource) Repair() ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	changes := 0
	var log []string
	note := func(format string, args ...any) {
		log = append(log, fmt.Sprintf(format, args...))
		changes++
	}

	strategies, err := fs.structuralRepair(note)
	if err != nil {
		return log, err
	}
	if len(strategies) == 0 {
		return append(log, "The log is empty, nothing to repair"), nil
	}

	// Renumber and test-replay until the scratch tree accepts the
	// whole list.
	for {
		renumbered := 0
		for i, s := range strategies {
			if s.Seq() != int64(i)+1 {
				s.SetSeq(int64(i) + 1)
				renumbered++
			}
		}
		if renumbered > 0 {
			changes += renumbered
		}
		log = append(log, fmt.Sprintf("Renumbered strategies up to %d", len(strategies)))

		failed, err := fs.testReplay(strategies)
		if failed < 0 {
			log = append(log, "Tested successfully")
			break
		}
		note("Tested with an error: %v. Removed failed strategy: %s",
			err, strategy.Serialize(strategies[failed]))
		strategies = slices.Delete(strategies, failed, failed+1)
		if len(strategies) == 0 {
			return log, fmt.Errorf("no strategies survived the repair")
		}
	}

	if changes == 0 {
		return append(log, "No changes were made"), nil
	}
	log = append(log, fmt.Sprintf("Made %d changes in total", changes))
	backup, err := fs.backupAndRewrite(strategies)
	if err != nil {
		return log, err
	}
	log = append(log, fmt.Sprintf("Created backup file %s", backup))
	log = append(log, fmt.Sprintf("Overwrote original file %s", fs.opts.Path))
	return log, nil
}

// structuralRepair reads the file once, dropping duplicates and
// synthesizing missing parents at first reference.
func (fs *FileSource) structuralRepair(note func(string, ...any)) ([]strategy.Strategy, error) {
	f, err := os.Open(fs.opts.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reg := fs.engine.Registry()
	var out []strategy.Strategy
	users := make(map[string]map[string]bool)    // identity -> backlog uids
	backlogs := make(map[string]map[string]bool) // backlog uid -> workitem uids
	workitems := make(map[string]bool)
	repairedBacklog := ""

	synthesize := func(name string, when time.Time, user string, params ...string) error {
		s, err := reg.Create(name, 1, when, user, params)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}

	ensureUser := func(identity string, when time.Time) error {
		if identity == model.AdminIdentity {
			return nil
		}
		if _, ok := users[identity]; ok {
			return nil
		}
		if err := synthesize(strategy.NameCreateUser, when, model.AdminIdentity,
			identity, "[Repaired] "+identity); err != nil {
			return err
		}
		users[identity] = make(map[string]bool)
		note("Created a missing user on first reference: %s", identity)
		return nil
	}

	ensureBacklog := func(uid string, when time.Time, user string) error {
		if _, ok := backlogs[uid]; ok {
			return nil
		}
		if err := ensureUser(user, when); err != nil {
			return err
		}
		if err := synthesize(strategy.NameCreateBacklog, when, user,
			uid, "[Repaired] "+uid); err != nil {
			return err
		}
		backlogs[uid] = make(map[string]bool)
		users[user][uid] = true
		note("Created a missing backlog on first reference: %s", uid)
		return nil
	}

	ensureWorkitem := func(uid string, when time.Time, user string) error {
		if workitems[uid] {
			return nil
		}
		if err := ensureUser(user, when); err != nil {
			return err
		}
		if repairedBacklog == "" {
			repairedBacklog = model.NewUID()
			if err := synthesize(strategy.NameCreateBacklog, when, user,
				repairedBacklog, "[Repaired] Orphan workitems"); err != nil {
				return err
			}
			backlogs[repairedBacklog] = make(map[string]bool)
			users[user][repairedBacklog] = true
			note("Created a backlog for orphan workitems: %s", repairedBacklog)
		}
		if err := synthesize(strategy.NameCreateWorkitem, when, user,
			uid, repairedBacklog, "[Repaired] "+uid); err != nil {
			return err
		}
		workitems[uid] = true
		backlogs[repairedBacklog][uid] = true
		note("Created a missing workitem on first reference: %s", uid)
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s, err := fs.decodeLine(line)
		if err != nil {
			if strategy.IsSkippable(err) {
				continue
			}
			note("Skipped an invalid line (%v): %s", err, line)
			continue
		}
		params := s.Params()

		switch s.Name() {
		case strategy.NameCreateUser:
			uid := params[0]
			if _, ok := users[uid]; ok {
				note("Skipped a duplicate user: %s", uid)
				continue
			}
			users[uid] = make(map[string]bool)

		case strategy.NameDeleteUser:
			uid := params[0]
			owned, ok := users[uid]
			if !ok {
				note("Skipped deletion of a non-existent user: %s", uid)
				continue
			}
			for backlogUID := range owned {
				for workitemUID := range backlogs[backlogUID] {
					delete(workitems, workitemUID)
				}
				delete(backlogs, backlogUID)
			}
			delete(users, uid)

		case strategy.NameRenameUser:
			if err := ensureUser(params[0], s.When()); err != nil {
				return nil, err
			}

		case strategy.NameCreateCategory, strategy.NameRenameCategory,
			strategy.NameDeleteCategory:
			// Categories live in the acting user's tree; duplicates and
			// dangling references fall out in the test replay.
			if err := ensureUser(s.User(), s.When()); err != nil {
				return nil, err
			}

		case strategy.NameCreateBacklog:
			uid := params[0]
			if _, ok := backlogs[uid]; ok {
				note("Skipped a duplicate backlog: %s", uid)
				continue
			}
			if err := ensureUser(s.User(), s.When()); err != nil {
				return nil, err
			}
			backlogs[uid] = make(map[string]bool)
			if owned, ok := users[s.User()]; ok {
				owned[uid] = true
			}

		case strategy.NameDeleteBacklog:
			uid := params[0]
			owned, ok := backlogs[uid]
			if !ok {
				note("Skipped deletion of a non-existent backlog: %s", uid)
				continue
			}
			for workitemUID := range owned {
				delete(workitems, workitemUID)
			}
			delete(backlogs, uid)

		case strategy.NameRenameBacklog, strategy.NameReorderBacklog:
			if err := ensureBacklog(params[0], s.When(), s.User()); err != nil {
				return nil, err
			}

		case strategy.NameCreateWorkitem:
			uid, backlogUID := params[0], params[1]
			if workitems[uid] {
				note("Skipped a duplicate workitem: %s", uid)
				continue
			}
			if err := ensureBacklog(backlogUID, s.When(), s.User()); err != nil {
				return nil, err
			}
			workitems[uid] = true
			backlogs[backlogUID][uid] = true

		case strategy.NameDeleteWorkitem:
			uid := params[0]
			if !workitems[uid] {
				note("Skipped deletion of a non-existent workitem: %s", uid)
				continue
			}
			delete(workitems, uid)

		case strategy.NameRenameWorkitem, strategy.NameReorderWorkitem,
			strategy.NameCompleteWorkitem, strategy.NameStartWork,
			strategy.NameAddPomodoro, strategy.NameVoidPomodoro,
			strategy.NameRemovePomodoro:
			if err := ensureWorkitem(params[0], s.When(), s.User()); err != nil {
				return nil, err
			}
		}

		out = append(out, s)
	}
	return out, scanner.Err()
}

// testReplay feeds the strategies to a scratch engine and returns the
// index of the first failing one, or -1 on a clean pass.
func (fs *FileSource) testReplay(strategies []strategy.Strategy) (int, error) {
	em := events.NewEmitter()
	em.Mute()
	clone := source.NewEngine(source.Config{Identity: fs.engine.Identity()}, em, fs.engine.Registry())
	for i, s := range strategies {
		if err := clone.ApplyIncoming(s); err != nil {
			return i, err
		}
	}
	return -1, nil
}
